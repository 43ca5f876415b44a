package imagegen

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pictora/pictora/types"
)

func TestDetectMIME(t *testing.T) {
	assert.Equal(t, "image/jpeg", DetectMIME("/9j/4AAQSkZJRg"))
	assert.Equal(t, "image/png", DetectMIME("iVBORw0KGgo"))
	assert.Equal(t, "image/webp", DetectMIME("UklGRiQAAABXRUJQ"))
	assert.Equal(t, "image/gif", DetectMIME("R0lGODlhAQAB"))
	assert.Equal(t, "image/png", DetectMIME("AAAA"))
}

func TestStripDataURI(t *testing.T) {
	b64, mime := StripDataURI("data:image/jpeg;base64,/9j/abc")
	assert.Equal(t, "/9j/abc", b64)
	assert.Equal(t, "image/jpeg", mime)

	b64, mime = StripDataURI("iVBORw0KGgo")
	assert.Equal(t, "iVBORw0KGgo", b64)
	assert.Equal(t, "image/png", mime)
}

func TestToDataURI(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo", ToDataURI("iVBORw0KGgo"))
}

func TestDownloadImageBase64(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	b64, _, err := DownloadImageBase64(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), b64)
}

func TestDownloadImage_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	_, err := DownloadImage(context.Background(), srv.Client(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrClient, types.GetErrorCode(err))

	_, err = DownloadImage(context.Background(), srv.Client(), srv.URL+"/empty")
	require.Error(t, err)
	assert.Equal(t, types.ErrNoImageFound, types.GetErrorCode(err))
}
