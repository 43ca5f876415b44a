// Package modelscope implements the ModelScope two-phase wire format:
// submit an async job, then poll the task endpoint at a fixed interval
// until it reaches a terminal state or the poll budget runs out.
package modelscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/types"
)

const Format = "modelscope"

// Polling defaults, overridable per model record.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 60
)

// Client calls the ModelScope async image-generation API.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates a modelscope-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "modelscope_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type submitRequest struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Size           string  `json:"size,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	Steps          int     `json:"num_inference_steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	TaskStatus   string   `json:"task_status"`
	OutputImages []string `json:"output_images"`
	Message      string   `json:"message"`
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model

	taskID, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("job submitted", zap.String("task_id", taskID))

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}

	for attempt := 0; attempt < maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		task, err := c.pollTask(ctx, cfg, taskID)
		if err != nil {
			return nil, err
		}
		switch task.TaskStatus {
		case "SUCCEED", "SUCCESS":
			if len(task.OutputImages) == 0 {
				return nil, types.NewError(types.ErrNoImageFound, "job succeeded without output images").
					WithProvider(Format)
			}
			b64, mime, err := imagegen.DownloadImageBase64(ctx, c.http, task.OutputImages[0])
			if err != nil {
				return nil, err
			}
			return &imagegen.Result{
				ImageBase64: b64,
				MIMEType:    mime,
				Mode:        req.Mode,
				Provider:    Format,
			}, nil
		case "FAILED":
			return nil, types.NewError(types.ErrClient, "job failed: "+task.Message).
				WithProvider(Format)
		}
		// PENDING / RUNNING keep polling
	}

	return nil, types.NewError(types.ErrTimeout,
		fmt.Sprintf("job not finished after %d polls", maxPolls)).
		WithProvider(Format)
}

func (c *Client) submit(ctx context.Context, req *imagegen.Request) (string, error) {
	cfg := req.Model

	body := submitRequest{
		Model:          cfg.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Size:           resolveSize(req.Size),
		Steps:          cfg.Steps,
		Guidance:       cfg.GuidanceScale,
	}
	if cfg.Seed > 0 {
		body.Seed = cfg.Seed
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrClient, "encoding request failed").
			WithProvider(Format).WithCause(err)
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/v1/images/generations"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrClient, "building request failed").
			WithProvider(Format).WithCause(err)
	}
	httpReq.Header.Set("Authorization", providers.BearerToken(cfg.APIKey))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-ModelScope-Async-Mode", "true")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewError(types.ErrTransient, "decoding submit response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if parsed.TaskID == "" {
		return "", types.NewError(types.ErrTransient, "submit response carried no task id").
			WithRetryable(true).WithProvider(Format)
	}
	return parsed.TaskID, nil
}

func (c *Client) pollTask(ctx context.Context, cfg *imagegen.ModelConfig, taskID string) (*taskResponse, error) {
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/v1/tasks/" + taskID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "building poll request failed").
			WithProvider(Format).WithCause(err)
	}
	httpReq.Header.Set("Authorization", providers.BearerToken(cfg.APIKey))
	httpReq.Header.Set("X-ModelScope-Task-Type", "image_generation")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	var parsed taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrTransient, "decoding poll response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	return &parsed, nil
}

func resolveSize(size string) string {
	if w, h, ok := imagegen.ParsePixelSize(size); ok {
		return fmt.Sprintf("%dx%d", w, h)
	}
	if imagegen.IsAspectSize(size) {
		ratio, tier := imagegen.SplitAspectSize(size)
		w, h := imagegen.PixelsForAspect(ratio, tier)
		return fmt.Sprintf("%dx%d", w, h)
	}
	return ""
}
