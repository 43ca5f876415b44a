package mengyuai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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
		Size:   "768x1024",
		Mode:   imagegen.ModeText2Img,
		Model: &imagegen.ModelConfig{
			ID:         "m1",
			BaseURL:    baseURL,
			ModelIndex: 3,
		},
	}
}

func TestClient_Generate_URLShape(t *testing.T) {
	var captured map[string]any
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"url": srv.URL + "/out.png"})
	})
	mux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x89, 0x50, 0x4E, 0x47})
	})

	c := New(srv.Client(), zap.NewNop())
	res, err := c.Generate(context.Background(), testRequest(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, float64(3), captured["model"], "model selected by numeric index")
	assert.Equal(t, float64(768), captured["width"])
	assert.Equal(t, float64(1024), captured["height"])
	assert.NotEmpty(t, res.ImageBase64)
	assert.Equal(t, "image/png", res.MIMEType)
}

func TestClient_Generate_AlternateShapes(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"base64 field", map[string]any{"base64": "iVBORw0KGgo="}},
		{"image field", map[string]any{"image": "data:image/png;base64,iVBORw0KGgo="}},
		{"images array", map[string]any{"images": []string{"iVBORw0KGgo="}}},
		{"nested data", map[string]any{"data": map[string]any{"images": []string{"iVBORw0KGgo="}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tc.body)
			}))
			defer srv.Close()

			c := New(srv.Client(), zap.NewNop())
			res, err := c.Generate(context.Background(), testRequest(srv.URL))
			require.NoError(t, err)
			assert.Equal(t, "iVBORw0KGgo=", res.ImageBase64)
			assert.Equal(t, "image/png", res.MIMEType)
		})
	}
}

func TestClient_RejectsInputImageBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	req := testRequest(srv.URL)
	req.Mode = imagegen.ModeImg2Img
	req.InputImage = "iVBORw0KGgo="

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedMode, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
	assert.Zero(t, hits.Load(), "no request may leave the client")
}

func TestClient_NoImageField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), testRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, types.ErrNoImageFound, types.GetErrorCode(err))
}
