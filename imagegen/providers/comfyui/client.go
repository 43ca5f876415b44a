// Package comfyui drives a local ComfyUI server. A workflow graph is
// loaded from disk as a JSON template, its placeholders are filled
// from the request, the graph is queued, and the history endpoint is
// polled until the run finishes. Input images are uploaded through the
// server's own upload endpoint first.
package comfyui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/imagegen/providers"
	"github.com/pictora/pictora/types"
)

const Format = "comfyui"

// Polling defaults, overridable per model record.
const (
	DefaultPollInterval = time.Second
	DefaultMaxPolls     = 120
)

const (
	defaultSide    = 1024
	defaultSteps   = 25
	defaultCFG     = 7.0
	defaultDenoise = 0.6
)

// Client talks to one ComfyUI server.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates a comfyui-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "comfyui_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

type historyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []historyImage `json:"images"`
	} `json:"outputs"`
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model
	base := strings.TrimRight(cfg.BaseURL, "/")

	template, err := loadWorkflow(cfg, req.Mode)
	if err != nil {
		return nil, err
	}

	imageRef := ""
	if req.Mode == imagegen.ModeImg2Img && req.InputImage != "" {
		imageRef, err = c.uploadImage(ctx, base, req.InputImage)
		if err != nil {
			return nil, err
		}
	}

	graph, err := fillWorkflow(template, req, imageRef)
	if err != nil {
		return nil, err
	}

	promptID, err := c.queuePrompt(ctx, base, graph)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("workflow queued", zap.String("prompt_id", promptID))

	img, err := c.waitForOutput(ctx, cfg, base, promptID)
	if err != nil {
		return nil, err
	}

	data, mime, err := c.fetchImage(ctx, base, img)
	if err != nil {
		return nil, err
	}

	return &imagegen.Result{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MIMEType:    mime,
		Mode:        req.Mode,
		Provider:    Format,
	}, nil
}

// loadWorkflow reads the workflow template for the model. An explicit
// workflow name wins; otherwise the mode picks a conventional file.
func loadWorkflow(cfg *imagegen.ModelConfig, mode imagegen.Mode) (string, error) {
	name := cfg.Workflow
	if name == "" {
		if mode == imagegen.ModeImg2Img {
			name = "img2img"
		} else {
			name = "text2img"
		}
	}
	path := filepath.Join(cfg.WorkflowDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", types.NewError(types.ErrConfig, "reading workflow template failed: "+path).
			WithProvider(Format).WithCause(err)
	}
	return string(data), nil
}

// fillWorkflow substitutes the request values into the template. Every
// value passes through the JSON encoder so prompts with quotes or
// newlines stay valid inside the graph.
func fillWorkflow(template string, req *imagegen.Request, imageRef string) (json.RawMessage, error) {
	cfg := req.Model

	width, height := resolveDims(req.Size)
	seed := cfg.Seed
	if seed <= 0 {
		seed = rand.Int63()
	}
	steps := cfg.Steps
	if steps <= 0 {
		steps = defaultSteps
	}
	guidance := cfg.GuidanceScale
	if guidance <= 0 {
		guidance = defaultCFG
	}
	denoise := cfg.Denoise
	if req.Strength > 0 {
		denoise = req.Strength
	}
	if denoise <= 0 {
		denoise = defaultDenoise
	}

	replacements := map[string]string{
		"${prompt}":          jsonEscape(req.Prompt),
		"${negative_prompt}": jsonEscape(req.NegativePrompt),
		"${seed}":            fmt.Sprintf("%d", seed),
		"${steps}":           fmt.Sprintf("%d", steps),
		"${cfg}":             fmt.Sprintf("%g", guidance),
		"${width}":           fmt.Sprintf("%d", width),
		"${height}":          fmt.Sprintf("%d", height),
		"${denoise}":         fmt.Sprintf("%g", denoise),
		"${image}":           jsonEscape(imageRef),
	}
	filled := template
	for placeholder, value := range replacements {
		filled = strings.ReplaceAll(filled, placeholder, value)
	}

	if !json.Valid([]byte(filled)) {
		return nil, types.NewError(types.ErrConfig, "workflow template is not valid JSON after substitution").
			WithProvider(Format)
	}
	return json.RawMessage(filled), nil
}

// jsonEscape encodes s as a JSON string and strips the surrounding
// quotes, leaving content safe to splice into a quoted template slot.
func jsonEscape(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded[1 : len(encoded)-1])
}

func (c *Client) uploadImage(ctx context.Context, base, b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", types.NewError(types.ErrValidation, "input image is not valid base64").
			WithProvider(Format).WithCause(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", uuid.NewString()+".png")
	if err != nil {
		return "", types.NewError(types.ErrClient, "building upload form failed").
			WithProvider(Format).WithCause(err)
	}
	if _, err := fw.Write(raw); err != nil {
		return "", types.NewError(types.ErrClient, "building upload form failed").
			WithProvider(Format).WithCause(err)
	}
	mw.WriteField("subfolder", "temp")
	mw.WriteField("overwrite", "true")
	if err := mw.Close(); err != nil {
		return "", types.NewError(types.ErrClient, "building upload form failed").
			WithProvider(Format).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/upload/image", &buf)
	if err != nil {
		return "", types.NewError(types.ErrClient, "building upload request failed").
			WithProvider(Format).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewError(types.ErrTransient, "decoding upload response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if parsed.Subfolder != "" {
		return parsed.Subfolder + "/" + parsed.Name, nil
	}
	return parsed.Name, nil
}

func (c *Client) queuePrompt(ctx context.Context, base string, graph json.RawMessage) (string, error) {
	body := map[string]any{
		"prompt":    graph,
		"client_id": uuid.NewString(),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewError(types.ErrClient, "encoding queue request failed").
			WithProvider(Format).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrClient, "building queue request failed").
			WithProvider(Format).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return "", providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	var parsed queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", types.NewError(types.ErrTransient, "decoding queue response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if parsed.PromptID == "" {
		return "", types.NewError(types.ErrTransient, "queue response carried no prompt id").
			WithRetryable(true).WithProvider(Format)
	}
	return parsed.PromptID, nil
}

func (c *Client) waitForOutput(ctx context.Context, cfg *imagegen.ModelConfig, base, promptID string) (*historyImage, error) {
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

		entry, err := c.fetchHistory(ctx, base, promptID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		for _, out := range entry.Outputs {
			if len(out.Images) > 0 {
				img := out.Images[0]
				return &img, nil
			}
		}
		return nil, types.NewError(types.ErrNoImageFound, "workflow finished without image outputs").
			WithProvider(Format)
	}
	return nil, types.NewError(types.ErrTimeout,
		fmt.Sprintf("workflow not finished after %d polls", maxPolls)).
		WithProvider(Format)
}

// fetchHistory returns nil when the run has not reached the history yet.
func (c *Client) fetchHistory(ctx context.Context, base, promptID string) (*historyEntry, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/history/"+promptID, nil)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "building history request failed").
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

	var parsed map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrTransient, "decoding history response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	entry, ok := parsed[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *Client) fetchImage(ctx context.Context, base string, img *historyImage) ([]byte, string, error) {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, "", types.NewError(types.ErrClient, "building view request failed").
			WithProvider(Format).WithCause(err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, "", providers.WrapTransportError(err, Format)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, "", providers.MapHTTPError(resp.StatusCode, msg, Format)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", types.NewError(types.ErrTransient, "reading image body failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if len(data) == 0 {
		return nil, "", types.NewError(types.ErrNoImageFound, "view endpoint returned an empty body").
			WithProvider(Format)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	return data, mime, nil
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
