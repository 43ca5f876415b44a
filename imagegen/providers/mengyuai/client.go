// Package mengyuai implements the Mengyu AI wire format. The endpoint
// selects the model by numeric index and answers in one of several
// loosely related JSON shapes, so response parsing probes each known
// field in turn. The format is text-to-image only and rejects any
// request that carries an input image before touching the network.
package mengyuai

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

const Format = "mengyuai"

const defaultSide = 1024

// Client calls a Mengyu AI-compatible generation endpoint.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates a mengyuai-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "mengyuai_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type generationRequest struct {
	Model  int    `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// generationResponse collects every field name this endpoint has been
// observed to answer with.
type generationResponse struct {
	URL      string   `json:"url"`
	ImageURL string   `json:"image_url"`
	Output   string   `json:"output"`
	Image    string   `json:"image"`
	Base64   string   `json:"base64"`
	Images   []string `json:"images"`
	Data     *struct {
		URL    string   `json:"url"`
		Images []string `json:"images"`
	} `json:"data"`
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	if req.InputImage != "" {
		return nil, types.NewError(types.ErrUnsupportedMode,
			"this format cannot consume an input image").
			WithProvider(Format)
	}

	cfg := req.Model
	width, height := resolveDims(req.Size)

	body := generationRequest{
		Model:  cfg.ModelIndex,
		Prompt: req.Prompt,
		Width:  width,
		Height: height,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "encoding request failed").
			WithProvider(Format).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrClient, "building request failed").
			WithProvider(Format).WithCause(err)
	}
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", providers.BearerToken(cfg.APIKey))
	}
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

	payloadStr := firstPayload(&parsed)
	if payloadStr == "" {
		return nil, types.NewError(types.ErrNoImageFound, "no image field in any known response shape").
			WithProvider(Format)
	}

	if strings.HasPrefix(payloadStr, "http://") || strings.HasPrefix(payloadStr, "https://") {
		b64, mime, err := imagegen.DownloadImageBase64(ctx, c.http, payloadStr)
		if err != nil {
			return nil, err
		}
		return &imagegen.Result{
			ImageBase64: b64,
			MIMEType:    mime,
			Mode:        imagegen.ModeText2Img,
			Provider:    Format,
		}, nil
	}

	b64, mime := imagegen.StripDataURI(payloadStr)
	if mime == "" {
		mime = imagegen.DetectMIME(b64)
	}
	return &imagegen.Result{
		ImageBase64: b64,
		MIMEType:    mime,
		Mode:        imagegen.ModeText2Img,
		Provider:    Format,
	}, nil
}

// firstPayload probes the known response fields in a fixed order and
// returns the first non-empty URL or base64 payload.
func firstPayload(r *generationResponse) string {
	for _, v := range []string{r.URL, r.ImageURL, r.Output, r.Image, r.Base64} {
		if v != "" {
			return v
		}
	}
	if len(r.Images) > 0 && r.Images[0] != "" {
		return r.Images[0]
	}
	if r.Data != nil {
		if r.Data.URL != "" {
			return r.Data.URL
		}
		if len(r.Data.Images) > 0 {
			return r.Data.Images[0]
		}
	}
	return ""
}

func resolveDims(size string) (int, int) {
	if w, h, ok := imagegen.ParsePixelSize(size); ok {
		return w, h
	}
	if imagegen.IsAspectSize(size) {
		ratio, tier := imagegen.SplitAspectSize(size)
		return imagegen.PixelsForAspect(ratio, tier)
	}
	return defaultSide, defaultSide
}
