// Package openaichat implements image generation through a chat-completion
// endpoint. The generated image is embedded somewhere in the assistant
// message; extraction tries several locations in a fixed priority order
// and fails with NO_IMAGE_FOUND only after all of them miss.
package openaichat

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

const Format = "openai-chat"

// Client calls a chat-completion endpoint that answers with images.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New creates an openai-chat-format client.
func New(httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		logger: logger.With(zap.String("component", "openai_chat_client")),
	}
}

var _ imagegen.Client = (*Client)(nil)

func (c *Client) Format() string { return Format }

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message providers.ChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) Generate(ctx context.Context, req *imagegen.Request) (*imagegen.Result, error) {
	cfg := req.Model

	body := chatRequest{
		Model:    cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: buildContent(req)}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrClient, "encoding request failed").
			WithProvider(Format).WithCause(err)
	}

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
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

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrTransient, "decoding response failed").
			WithRetryable(true).WithProvider(Format).WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.ErrNoImageFound, "response carried no choices").
			WithProvider(Format)
	}

	extracted, ok := providers.ExtractImagePayload(parsed.Choices[0].Message)
	if !ok {
		return nil, types.NewError(types.ErrNoImageFound,
			"no image found in completion after all extraction strategies").
			WithProvider(Format)
	}

	result := &imagegen.Result{
		ImageBase64: extracted.Base64,
		ImageURL:    extracted.URL,
		MIMEType:    extracted.MIME,
		Mode:        req.Mode,
		Provider:    Format,
	}
	return result, nil
}

// buildContent renders the prompt as plain text, or as a multimodal part
// list when a reference image rides along.
func buildContent(req *imagegen.Request) any {
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt += "\nAvoid: " + req.NegativePrompt
	}
	if req.Mode != imagegen.ModeImg2Img || req.InputImage == "" {
		return prompt
	}

	image := &struct {
		URL string `json:"url"`
	}{URL: imagegen.ToDataURI(req.InputImage)}
	return []contentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: image},
	}
}
