package modelscope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pictora/pictora/imagegen"
	"github.com/pictora/pictora/types"
)

func testRequest(baseURL string) *imagegen.Request {
	return &imagegen.Request{
		Prompt: "a cat",
		Size:   "512x512",
		Mode:   imagegen.ModeText2Img,
		Model: &imagegen.ModelConfig{
			ID:           "m1",
			BaseURL:      baseURL,
			APIKey:       "ms-key",
			Model:        "ms-image-1",
			PollInterval: time.Millisecond,
			MaxPolls:     10,
		},
	}
}

func TestClient_SubmitPollDownload(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.Header.Get("X-ModelScope-Async-Mode"))
		json.NewEncoder(w).Encode(map[string]any{"task_id": "task-123"})
	})
	mux.HandleFunc("/v1/tasks/task-123", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "image_generation", r.Header.Get("X-ModelScope-Task-Type"))
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(map[string]any{"task_status": "RUNNING"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task_status":   "SUCCEED",
			"output_images": []string{srv.URL + "/result.png"},
		})
	})
	mux.HandleFunc("/result.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x89, 0x50, 0x4E, 0x47})
	})

	c := New(srv.Client(), zap.NewNop())
	res, err := c.Generate(context.Background(), testRequest(srv.URL))
	require.NoError(t, err)

	assert.NotEmpty(t, res.ImageBase64)
	assert.Equal(t, "image/png", res.MIMEType)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestClient_JobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "task-x"})
	})
	mux.HandleFunc("/v1/tasks/task-x", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_status": "FAILED", "message": "nsfw prompt"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), testRequest(srv.URL))
	require.Error(t, err)
	assert.Equal(t, types.ErrClient, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "nsfw prompt")
}

func TestClient_PollBudgetExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "task-y"})
	})
	mux.HandleFunc("/v1/tasks/task-y", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_status": "PENDING"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := testRequest(srv.URL)
	req.Model.MaxPolls = 3

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestClient_ContextCancelDuringPoll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_id": "task-z"})
	})
	mux.HandleFunc("/v1/tasks/task-z", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"task_status": "PENDING"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	req := testRequest(srv.URL)
	req.Model.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := New(srv.Client(), zap.NewNop())
	_, err := c.Generate(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
}
