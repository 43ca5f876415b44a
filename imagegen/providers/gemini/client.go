// Package gemini implements the native Gemini content-generation wire
// format for image output. Size is expressed as an aspect-ratio token
// plus an optional resolution tier; pixel specs are mapped to the
// closest supported ratio.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/types"
)

const Format = "gemini"

// Client calls the Gemini generateContent endpoint.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates a gemini-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "gemini_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationRequest struct {
	Contents         []content `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string     `json:"responseModalities"`
		ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
	} `json:"generationConfig"`
}

type generationResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model

	prompt := req.Prompt
	if req.NegativePrompt != "" {
		// the API has no negative-prompt field
		prompt += "\nDo not include: " + req.NegativePrompt
	}

	parts := []part{{Text: prompt}}
	if req.Mode == imagegen.ModeImg2Img && req.InputImage != "" {
		mime := req.InputMIME
		if mime == "" {
			mime = imagegen.DetectMIME(req.InputImage)
		}
		parts = append(parts, part{InlineData: &inlineData{MIMEType: mime, Data: req.InputImage}})
	}

	var body generationRequest
	body.Contents = []content{{Parts: parts}}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}
	body.GenerationConfig.ImageConfig = translateSize(req.Size)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "encoding request failed").
			WithProvider(Format).WithCause(err)
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/models/" + cfg.Model + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrClient, "building request failed").
			WithProvider(Format).WithCause(err)
	}
	httpReq.Header.Set("x-goog-api-key", providers.StripBearer(cfg.APIKey))
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

	for _, cand := range parsed.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return &imagegen.Result{
					ImageBase64: p.InlineData.Data,
					MIMEType:    p.InlineData.MIMEType,
					Mode:        req.Mode,
					Provider:    Format,
				}, nil
			}
		}
	}
	return nil, types.NewError(types.ErrNoImageFound, "no inline image in any candidate").
		WithProvider(Format)
}

// translateSize maps any accepted size spec onto the aspect-ratio plus
// resolution-tier form this wire format uses.
func translateSize(size string) *imageConfig {
	if w, h, ok := imagegen.ParsePixelSize(size); ok {
		return &imageConfig{AspectRatio: imagegen.AspectFromPixels(w, h)}
	}
	if imagegen.IsAspectSize(size) {
		ratio, tier := imagegen.SplitAspectSize(size)
		out := &imageConfig{ImageSize: tier}
		if ratio != "" {
			out.AspectRatio = imagegen.NormalizeAspect(ratio)
		}
		return out
	}
	return nil
}
