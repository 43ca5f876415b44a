package comfyui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/types"
)

const text2imgTemplate = `{
  "3": {
    "class_type": "KSampler",
    "inputs": {"seed": ${seed}, "steps": ${steps}, "cfg": ${cfg}, "denoise": ${denoise}}
  },
  "5": {
    "class_type": "EmptyLatentImage",
    "inputs": {"width": ${width}, "height": ${height}}
  },
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "${prompt}"}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": "${negative_prompt}"}}
}`

const img2imgTemplate = `{
  "1": {"class_type": "LoadImage", "inputs": {"image": "${image}"}},
  "3": {
    "class_type": "KSampler",
    "inputs": {"seed": ${seed}, "steps": ${steps}, "cfg": ${cfg}, "denoise": ${denoise}}
  },
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "${prompt}"}}
}`

func writeWorkflows(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "text2img.json"), []byte(text2imgTemplate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img2img.json"), []byte(img2imgTemplate), 0o644))
	return dir
}

func testRequest(baseURL, workflowDir string) *imagegen.Request {
	return &imagegen.Request{
		Prompt:         `a "quoted" cat`,
		NegativePrompt: "lowres",
		Size:           "1024x768",
		Mode:           imagegen.ModeText2Img,
		Model: &imagegen.ModelConfig{
			ID:           "m1",
			BaseURL:      baseURL,
			WorkflowDir:  workflowDir,
			Steps:        20,
			Seed:         42,
			PollInterval: time.Millisecond,
			MaxPolls:     20,
		},
	}
}

func comfyServer(t *testing.T, graph *map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt   map[string]any `json:"prompt"`
			ClientID string         `json:"client_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body.ClientID)
		*graph = body.Prompt
		json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-1"})
	})
	mux.HandleFunc("/history/p-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"p-1": map[string]any{
				"outputs": map[string]any{
					"9": map[string]any{
						"images": []map[string]any{
							{"filename": "out_00001.png", "subfolder": "", "type": "output"},
						},
					},
				},
			},
		})
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "out_00001.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4E, 0x47})
	})
	return srv
}

func TestClient_Text2ImgWorkflow(t *testing.T) {
	dir := writeWorkflows(t)
	var graph map[string]any
	srv := comfyServer(t, &graph)

	c := New(srv.Client(), zap.NewNop())
	res, err := c.Generate(context.Background(), testRequest(srv.URL, dir))
	require.NoError(t, err)

	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4E, 0x47}), res.ImageBase64)
	assert.Equal(t, "image/png", res.MIMEType)

	sampler := graph["3"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, float64(42), sampler["seed"])
	assert.Equal(t, float64(20), sampler["steps"])

	latent := graph["5"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, float64(1024), latent["width"])
	assert.Equal(t, float64(768), latent["height"])

	positive := graph["6"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, `a "quoted" cat`, positive["text"], "quotes survive template substitution")
}

func TestClient_Img2ImgUploadsFirst(t *testing.T) {
	dir := writeWorkflows(t)
	var graph map[string]any
	srv := comfyServer(t, &graph)

	uploaded := false
	srv.Config.Handler.(*http.ServeMux).HandleFunc("/upload/image", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "temp", r.FormValue("subfolder"))
		assert.Equal(t, "true", r.FormValue("overwrite"))
		_, header, err := r.FormFile("image")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(header.Filename, ".png"))
		uploaded = true
		json.NewEncoder(w).Encode(map[string]any{"name": header.Filename, "subfolder": "temp"})
	})

	req := testRequest(srv.URL, dir)
	req.Mode = imagegen.ModeImg2Img
	req.InputImage = base64.StdEncoding.EncodeToString([]byte{0x89, 0x50})
	req.Strength = 0.35

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	require.True(t, uploaded)

	loader := graph["1"].(map[string]any)["inputs"].(map[string]any)
	assert.True(t, strings.HasPrefix(loader["image"].(string), "temp/"), "uploaded reference keeps its subfolder")

	sampler := graph["3"].(map[string]any)["inputs"].(map[string]any)
	assert.Equal(t, 0.35, sampler["denoise"], "request strength drives the denoise placeholder")
}

func TestClient_MissingWorkflowIsConfigError(t *testing.T) {
	req := testRequest("http://127.0.0.1:1", t.TempDir())

	c := New(nil, zap.NewNop())
	_, err := c.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfig, types.GetErrorCode(err))
}

func TestClient_PollBudgetExhausted(t *testing.T) {
	dir := writeWorkflows(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-2"})
	})
	mux.HandleFunc("/history/p-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := testRequest(srv.URL, dir)
	req.Model.MaxPolls = 3

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestFillWorkflow_RandomSeedWhenUnset(t *testing.T) {
	req := testRequest("http://unused", "")
	req.Model.Seed = 0

	graph, err := fillWorkflow(text2imgTemplate, req, "")
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(graph, &parsed))
	seed := parsed["3"].(map[string]any)["inputs"].(map[string]any)["seed"].(float64)
	assert.Greater(t, seed, float64(0))
}
