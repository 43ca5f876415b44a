// Package doubao implements the Volcengine Ark (Doubao/Seedream) image
// generation wire format. The endpoint rejects small pixel sizes, so
// pixel specs are upscaled to the platform's minimum area, and the
// credential is sent without a Bearer prefix in the key header the SDK
// uses.
package doubao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/types"
)

const Format = "doubao"

// minPixelArea is the smallest total pixel count Seedream accepts.
// Smaller requests are proportionally upscaled.
const minPixelArea = 3686400

// content-moderation rejections are permanent: retrying the same prompt
// can only trip the filter again.
var moderationCodes = []string{
	"InputImageSensitiveContentDetected",
	"OutputImageSensitiveContentDetected",
	"InputTextSensitiveContentDetected",
}

// Client calls the Doubao images-generation endpoint.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates a doubao-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "doubao_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type generationRequest struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	ResponseFormat string  `json:"response_format"`
	Size           string  `json:"size"`
	Seed           int64   `json:"seed,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Watermark      bool    `json:"watermark"`
	Image          string  `json:"image,omitempty"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
	Seed int64 `json:"seed"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model

	size, err := translateSize(req.Size)
	if err != nil {
		return nil, err
	}

	body := generationRequest{
		Model:          cfg.Model,
		Prompt:         req.Prompt,
		ResponseFormat: "b64_json",
		Size:           size,
		GuidanceScale:  cfg.GuidanceScale,
		Watermark:      cfg.Watermark,
	}
	if cfg.Seed != -1 && cfg.Seed != 0 {
		body.Seed = cfg.Seed
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
	// Ark authenticates with the raw key; a stored Bearer prefix must go.
	httpReq.Header.Set("Authorization", "Bearer "+providers.StripBearer(cfg.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, c.mapError(resp.StatusCode, resp.Body)
	}

	var parsed generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrTransient, "decoding response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if len(parsed.Data) == 0 {
		return nil, types.NewError(types.ErrNoImageFound, "response carried no image data").
			WithProvider(Format)
	}

	result := &imagegen.Result{Mode: req.Mode, Provider: Format, Seed: parsed.Seed}
	if parsed.Data[0].B64JSON != "" {
		result.ImageBase64 = parsed.Data[0].B64JSON
		result.MIMEType = imagegen.DetectMIME(result.ImageBase64)
	} else {
		result.ImageURL = parsed.Data[0].URL
	}
	return result, nil
}

// mapError distinguishes moderation rejections, which must never be
// retried, from ordinary HTTP failures.
func (c *Client) mapError(status int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 8192))

	var parsed errorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Code != "" {
		for _, code := range moderationCodes {
			if parsed.Error.Code == code {
				return types.NewError(types.ErrClient, "content moderation rejected the request: "+parsed.Error.Message).
					WithHTTPStatus(status).
					WithProvider(Format)
			}
		}
		return providers.MapHTTPError(status, parsed.Error.Message, Format)
	}
	return providers.MapHTTPError(status, strings.TrimSpace(string(data)), Format)
}

// translateSize renders any accepted size spec as a Doubao-native token:
// a tier ("1K", "2K", "4K") or a "WxH" string at or above the minimum
// pixel area.
func translateSize(size string) (string, error) {
	if w, h, ok := imagegen.ParsePixelSize(size); ok {
		w, h = enforceMinPixels(w, h)
		return fmt.Sprintf("%dx%d", w, h), nil
	}
	if imagegen.IsAspectSize(size) {
		ratio, tier := imagegen.SplitAspectSize(size)
		if ratio == "" {
			// bare tier, the platform chooses the ratio
			return tier, nil
		}
		if tier == "" {
			tier = "2K"
		}
		w, h := imagegen.PixelsForAspect(ratio, tier)
		w, h = enforceMinPixels(w, h)
		return fmt.Sprintf("%dx%d", w, h), nil
	}
	return "", types.NewValidationError("size not expressible in doubao format: " + size)
}

// enforceMinPixels proportionally upscales dimensions until the total
// area meets the platform minimum, snapping up to multiples of 8.
func enforceMinPixels(w, h int) (int, int) {
	area := w * h
	if area >= minPixelArea {
		return w, h
	}
	scale := math.Sqrt(float64(minPixelArea) / float64(area))
	return snapUp8(int(math.Ceil(float64(w) * scale))), snapUp8(int(math.Ceil(float64(h) * scale)))
}

func snapUp8(n int) int {
	return (n + 7) / 8 * 8
}
