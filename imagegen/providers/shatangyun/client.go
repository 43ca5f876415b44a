// Package shatangyun implements the Shatangyun wire format: a single
// GET request carrying every generation parameter as a query value,
// answered with raw image bytes rather than a JSON envelope.
package shatangyun

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/types"
)

const Format = "shatangyun"

const defaultSide = 1024

// maxBodyBytes caps the image download at 32 MiB.
const maxBodyBytes = 32 << 20

// Client calls a Shatangyun-compatible raw-image endpoint.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates a shatangyun-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "shatangyun_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model

	width, height := resolveDims(req.Size)

	q := url.Values{}
	q.Set("key", providers.StripBearer(cfg.APIKey))
	q.Set("prompt", req.Prompt)
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	if req.NegativePrompt != "" {
		q.Set("negative_prompt", req.NegativePrompt)
	}
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Artist != "" {
		q.Set("artist", cfg.Artist)
	}
	if cfg.Sampler != "" {
		q.Set("sampler", cfg.Sampler)
	}
	if cfg.NoiseSchedule != "" {
		q.Set("noise_schedule", cfg.NoiseSchedule)
	}
	if cfg.GuidanceScale > 0 {
		q.Set("cfg", strconv.FormatFloat(cfg.GuidanceScale, 'f', -1, 64))
	}
	if cfg.CFGRescale > 0 {
		q.Set("cfg_rescale", strconv.FormatFloat(cfg.CFGRescale, 'f', -1, 64))
	}
	if cfg.Steps > 0 {
		q.Set("steps", strconv.Itoa(cfg.Steps))
	}
	if cfg.Seed > 0 {
		q.Set("seed", strconv.FormatInt(cfg.Seed, 10))
	}
	if cfg.NoCache {
		q.Set("nocache", "1")
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "building request failed").
			WithProvider(Format).WithCause(err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, types.NewError(types.ErrTransient, "reading image body failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if len(data) == 0 {
		return nil, types.NewError(types.ErrNoImageFound, "response body was empty").
			WithProvider(Format)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || strings.HasPrefix(mime, "application/") {
		mime = "image/png"
	}

	return &imagegen.Result{
		ImageBytes: data,
		MIMEType:   mime,
		Mode:       req.Mode,
		Seed:       cfg.Seed,
		Provider:   Format,
	}, nil
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
