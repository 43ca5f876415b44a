// Package openai implements the synchronous images-generation wire format
// used by OpenAI-compatible endpoints. Some deployments expect the size
// and count parameters under different keys; the request body branches on
// the base URL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/types"
)

const Format = "openai"

// Client calls an OpenAI-compatible images-generation endpoint.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates an openai-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "openai_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`

	// Standard parameter names.
	Size string `json:"size,omitempty"`
	N    int    `json:"n,omitempty"`

	// Alternate names used by SiliconFlow-style deployments.
	ImageSize string `json:"image_size,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`

	Seed              int64   `json:"seed,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`

	// Data URI of the reference image for img2img deployments.
	Image string `json:"image,omitempty"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Seed int64 `json:"seed"`
}

// usesAltParamNames reports whether the deployment expects image_size and
// batch_size instead of size and n.
func usesAltParamNames(baseURL string) bool {
	return strings.Contains(baseURL, "siliconflow")
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model

	size, err := resolveSize(req.Size)
	if err != nil {
		return nil, err
	}

	body := generationRequest{
		Model:             cfg.Model,
		Prompt:            req.Prompt,
		NegativePrompt:    req.NegativePrompt,
		ResponseFormat:    "b64_json",
		Seed:              positiveSeed(cfg.Seed),
		GuidanceScale:     cfg.GuidanceScale,
		NumInferenceSteps: cfg.Steps,
	}
	if usesAltParamNames(cfg.BaseURL) {
		body.ImageSize = size
		body.BatchSize = 1
	} else {
		body.Size = size
		body.N = 1
	}
	if req.Mode == imagegen.ModeImg2Img && req.InputImage != "" {
		body.Image = imagegen.ToDataURI(req.InputImage)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "encoding request failed").
			WithProvider(Format).WithCause(err)
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/images/generations"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrClient, "building request failed").
			WithProvider(Format).WithCause(err)
	}
	httpReq.Header.Set("Authorization", providers.BearerToken(cfg.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	var parsed generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrTransient, "decoding response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}

	result := &imagegen.Result{Mode: req.Mode, Provider: Format, Seed: parsed.Seed}
	switch {
	case len(parsed.Data) > 0 && parsed.Data[0].B64JSON != "":
		result.ImageBase64 = parsed.Data[0].B64JSON
		result.MIMEType = imagegen.DetectMIME(result.ImageBase64)
	case len(parsed.Data) > 0 && parsed.Data[0].URL != "":
		result.ImageURL = parsed.Data[0].URL
	case len(parsed.Images) > 0 && parsed.Images[0].URL != "":
		result.ImageURL = parsed.Images[0].URL
	default:
		return nil, types.NewError(types.ErrNoImageFound, "response carried no image data").
			WithProvider(Format)
	}
	return result, nil
}

// resolveSize renders any accepted size spec as the "WxH" string this
// wire format requires.
func resolveSize(size string) (string, error) {
	if w, h, ok := imagegen.ParsePixelSize(size); ok {
		return fmt.Sprintf("%dx%d", w, h), nil
	}
	if imagegen.IsAspectSize(size) {
		ratio, tier := imagegen.SplitAspectSize(size)
		w, h := imagegen.PixelsForAspect(ratio, tier)
		return fmt.Sprintf("%dx%d", w, h), nil
	}
	return "", types.NewValidationError("unusable size spec: " + size)
}

func positiveSeed(seed int64) int64 {
	if seed < 0 {
		return 0
	}
	return seed
}
