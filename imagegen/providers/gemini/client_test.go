package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/types"
)

func testRequest(baseURL string) *imagegen.Request {
	return &imagegen.Request{
		Prompt: "a cat",
		Size:   "16:9-2K",
		Mode:   imagegen.ModeText2Img,
		Model: &imagegen.ModelConfig{
			ID:      "m1",
			BaseURL: baseURL,
			APIKey:  "Bearer g-key",
			Model:   "gemini-image-1",
		},
	}
}

func TestClient_Generate(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-image-1:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"), "Bearer prefix must be stripped")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": "here is your image"},
						{"inlineData": map[string]any{"mimeType": "image/png", "data": "iVBORw_gem"}},
					},
				},
			}},
		})
	}))
	defer srv.Close()

	c := New(srv.Client(), zap.NewNop())
	res, err := c.Generate(context.Background(), testRequest(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, "iVBORw_gem", res.ImageBase64)
	assert.Equal(t, "image/png", res.MIMEType)

	genCfg := captured["generationConfig"].(map[string]any)
	imgCfg := genCfg["imageConfig"].(map[string]any)
	assert.Equal(t, "16:9", imgCfg["aspectRatio"])
	assert.Equal(t, "2K", imgCfg["imageSize"])
}

func TestTranslateSize(t *testing.T) {
	cfg := translateSize("1920x1080")
	require.NotNil(t, cfg)
	assert.Equal(t, "16:9", cfg.AspectRatio)
	assert.Empty(t, cfg.ImageSize)

	cfg = translateSize("-4K")
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.AspectRatio)
	assert.Equal(t, "4K", cfg.ImageSize)

	cfg = translateSize("9:16")
	require.NotNil(t, cfg)
	assert.Equal(t, "9:16", cfg.AspectRatio)

	assert.Nil(t, translateSize("banana"))
}

func TestClient_Img2ImgSendsInlineData(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{"mimeType": "image/png", "data": "iVBORw_out"}},
					},
				},
			}},
		})
	}))
	defer srv.Close()

	req := testRequest(srv.URL)
	req.Mode = imagegen.ModeImg2Img
	req.InputImage = "/9j/ref"
	req.InputMIME = "image/jpeg"

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), req)
	require.NoError(t, err)

	contents := captured["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/jpeg", inline["mimeType"])
	assert.Equal(t, "/9j/ref", inline["data"])
}

func TestClient_NoImageInCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": "cannot comply"}}},
			}},
		})
	}))
	defer srv.Close()

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), testRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, types.ErrNoImageFound, types.GetErrorCode(err))
}
