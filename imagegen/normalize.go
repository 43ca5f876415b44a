package imagegen

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pictora/pictora/types"
)

// Params is the raw caller input to normalization.
type Params struct {
	Prompt         string
	NegativePrompt string

	// Size is the caller-requested size, empty to use the model default.
	Size string

	// InputImage may be raw base64, a data URI, or empty.
	InputImage string

	// Style names a prompt fragment from the style book, optional.
	Style string

	// Strength is the img2img denoise strength; zero selects the default.
	Strength float64
}

// Normalized is the outcome of normalization: a dispatchable Request plus
// signals the caller needs to relay.
type Normalized struct {
	Request

	// Img2ImgDowngraded is set when an input image was supplied but the
	// model cannot consume it. The image is dropped and the request runs
	// as text-to-image; the caller must inform the user rather than
	// silently discarding the image.
	Img2ImgDowngraded bool
}

const defaultStrength = 0.6

// Normalizer turns caller parameters plus a model record into a normalized
// request: resolved size, determined mode, merged prompts.
type Normalizer struct {
	styles *StyleBook
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer. A nil style book disables styles.
func NewNormalizer(styles *StyleBook, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		styles: styles,
		logger: logger.With(zap.String("component", "normalizer")),
	}
}

// Normalize validates and resolves a request against the given model.
func (n *Normalizer) Normalize(p Params, model *ModelConfig) (*Normalized, error) {
	if model == nil {
		return nil, types.NewConfigError("no model record supplied")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, types.NewValidationError("prompt must not be empty")
	}

	size, err := n.resolveSize(p.Size, model)
	if err != nil {
		return nil, err
	}

	out := &Normalized{Request: Request{
		Prompt:         n.mergePrompt(p.Prompt, p.Style, model),
		NegativePrompt: mergeParts(p.NegativePrompt, model.NegativePromptAdd),
		Size:           size,
		Mode:           ModeText2Img,
		Strength:       p.Strength,
		Model:          model,
	}}
	if out.Strength <= 0 || out.Strength > 1 {
		out.Strength = defaultStrength
	}

	if p.InputImage != "" {
		if model.SupportImg2Img {
			b64, mime := StripDataURI(p.InputImage)
			out.Mode = ModeImg2Img
			out.InputImage = b64
			out.InputMIME = mime
		} else {
			out.Img2ImgDowngraded = true
			n.logger.Info("input image dropped, model lacks img2img support",
				zap.String("model", model.ID))
		}
	}

	return out, nil
}

// resolveSize applies the fixed-size policy and validates caller sizes.
// Pixel specs are range-checked; aspect specs pass through for providers
// to translate.
func (n *Normalizer) resolveSize(requested string, model *ModelConfig) (string, error) {
	if model.FixedSize || strings.TrimSpace(requested) == "" {
		return model.DefaultSize, nil
	}
	requested = strings.TrimSpace(requested)
	if w, h, ok := ParsePixelSize(requested); ok {
		if err := ValidatePixelSize(w, h); err != nil {
			return "", err
		}
		return requested, nil
	}
	if IsAspectSize(requested) {
		return requested, nil
	}
	return "", types.NewValidationError("unrecognized size format: " + requested)
}

// mergePrompt concatenates caller text, style fragment, and the model's
// prompt addition, caller text first. Order matters for providers with
// positional prompt weighting.
func (n *Normalizer) mergePrompt(prompt, style string, model *ModelConfig) string {
	fragment := ""
	if style != "" {
		f, ok := n.styles.Resolve(style)
		if !ok {
			n.logger.Debug("unknown style ignored", zap.String("style", style))
		}
		fragment = f
	}
	return mergeParts(prompt, fragment, model.PromptAdd)
}

func mergeParts(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), ","))
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// RecallDelay returns the model's auto-recall delay as a duration.
func RecallDelay(model *ModelConfig) time.Duration {
	if model == nil || model.AutoRecallDelay <= 0 {
		return 0
	}
	return time.Duration(model.AutoRecallDelay) * time.Second
}
