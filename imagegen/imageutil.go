package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pictora/pictora/types"
)

// base64 magic prefixes for common image formats.
var base64MIMEPrefixes = []struct {
	prefix string
	mime   string
}{
	{"/9j/", "image/jpeg"},
	{"iVBORw", "image/png"},
	{"UklGR", "image/webp"},
	{"R0lGOD", "image/gif"},
}

// DetectMIME sniffs the MIME type of a base64-encoded image by its magic
// prefix, defaulting to PNG when unrecognized.
func DetectMIME(b64 string) string {
	for _, p := range base64MIMEPrefixes {
		if strings.HasPrefix(b64, p.prefix) {
			return p.mime
		}
	}
	return "image/png"
}

// ToDataURI wraps base64 image data in a data URI.
func ToDataURI(b64 string) string {
	return fmt.Sprintf("data:%s;base64,%s", DetectMIME(b64), b64)
}

// StripDataURI splits a data URI into its base64 payload and MIME type.
// Plain base64 input passes through with a sniffed MIME type.
func StripDataURI(s string) (b64, mime string) {
	if !strings.HasPrefix(s, "data:") {
		return s, DetectMIME(s)
	}
	rest := strings.TrimPrefix(s, "data:")
	i := strings.Index(rest, ";base64,")
	if i < 0 {
		return s, DetectMIME(s)
	}
	return rest[i+len(";base64,"):], rest[:i]
}

// DownloadImage fetches an image URL and returns its raw bytes.
func DownloadImage(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewValidationError("invalid image URL").WithCause(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrTransient, "image download failed").
			WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrClient,
			fmt.Sprintf("image download returned status %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrTransient, "reading image body failed").
			WithRetryable(true).WithCause(err)
	}
	if len(data) == 0 {
		return nil, types.NewError(types.ErrNoImageFound, "image download returned empty body")
	}
	return data, nil
}

// DownloadImageBase64 fetches an image URL and returns base64 data plus
// its sniffed MIME type.
func DownloadImageBase64(ctx context.Context, client *http.Client, url string) (b64, mime string, err error) {
	data, err := DownloadImage(ctx, client, url)
	if err != nil {
		return "", "", err
	}
	b64 = base64.StdEncoding.EncodeToString(data)
	return b64, DetectMIME(b64), nil
}
