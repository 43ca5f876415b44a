// Package imagegen provides a uniform image-generation interface over
// heterogeneous provider wire formats, plus request normalization,
// fingerprint-keyed result caching, retry execution, and client dispatch.
package imagegen

import (
	"context"
	"time"
)

// Mode selects between text-to-image and image-to-image generation.
type Mode string

const (
	ModeText2Img Mode = "text2img"
	ModeImg2Img  Mode = "img2img"
)

// ModelConfig is an immutable per-model record created from persisted
// configuration at startup. Runtime toggles live in the state package,
// never here.
type ModelConfig struct {
	// ID is the config key the model is registered under.
	ID string `yaml:"-"`

	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Format  string `yaml:"format"`
	Model   string `yaml:"model"`

	// FixedSize forces DefaultSize regardless of the caller's request.
	FixedSize   bool   `yaml:"fixed_size"`
	DefaultSize string `yaml:"default_size"`

	Seed              int64   `yaml:"seed"`
	GuidanceScale     float64 `yaml:"guidance_scale"`
	Steps             int     `yaml:"num_inference_steps"`
	Watermark         bool    `yaml:"watermark"`
	PromptAdd         string  `yaml:"custom_prompt_add"`
	NegativePromptAdd string  `yaml:"negative_prompt_add"`
	SupportImg2Img    bool    `yaml:"support_img2img"`

	// AutoRecallDelay asks the transport collaborator to recall the sent
	// image after this many seconds. Zero disables recall.
	AutoRecallDelay int `yaml:"auto_recall_delay"`

	// ModelIndex is the numeric model selector used by the mengyuai format.
	ModelIndex int `yaml:"model_index"`

	// Shatangyun platform parameters.
	Artist        string  `yaml:"artist"`
	Sampler       string  `yaml:"sampler"`
	CFGRescale    float64 `yaml:"cfg_rescale"`
	NoiseSchedule string  `yaml:"noise_schedule"`
	NoCache       bool    `yaml:"nocache"`

	// ComfyUI workflow selection. Workflow names a JSON graph template
	// inside WorkflowDir; Denoise drives the img2img strength placeholder.
	WorkflowDir string  `yaml:"workflow_dir"`
	Workflow    string  `yaml:"workflow"`
	Denoise     float64 `yaml:"denoise"`

	// Polling knobs for async providers (modelscope, comfyui).
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`

	// Timeout applies per HTTP call; each retry attempt gets a fresh budget.
	Timeout time.Duration `yaml:"timeout"`
}

// Request is a normalized generation request. It is value-comparable for
// fingerprinting: every field that influences provider output is part of
// the cache key, session identifiers never appear here.
type Request struct {
	Prompt         string
	NegativePrompt string

	// Size is the resolved size spec: pixel "WxH" or an aspect token
	// "W:H", "W:H-TIER", "-TIER". Providers translate it to their native
	// representation.
	Size string

	Mode Mode

	// InputImage is raw base64 (no data URI prefix) for img2img requests.
	InputImage string
	InputMIME  string

	// Strength is the img2img denoise strength in (0,1].
	Strength float64

	Model *ModelConfig
}

// Result is a normalized generation result. Exactly one of ImageBase64,
// ImageURL, or ImageBytes is populated.
type Result struct {
	ImageBase64 string
	ImageURL    string
	ImageBytes  []byte

	MIMEType string
	Mode     Mode
	Seed     int64
	Provider string

	// Img2ImgDowngraded reports that an input image was supplied but the
	// model cannot consume it, so the request ran as text-to-image.
	Img2ImgDowngraded bool

	// RecallDelay is the model's auto-recall delay, surfaced so the
	// transport collaborator can schedule message recall.
	RecallDelay time.Duration
}

// HasImage reports whether the result carries any image payload.
func (r *Result) HasImage() bool {
	return r.ImageBase64 != "" || r.ImageURL != "" || len(r.ImageBytes) > 0
}

// Client generates an image from a normalized request using one concrete
// provider wire format.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
	Format() string
}
