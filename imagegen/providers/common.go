package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pictora/pictora/types"
)

// MapHTTPError maps an HTTP status to a structured error with the right
// retryable marking. 429 and 5xx are transient; other 4xx are client
// errors that retrying cannot fix.
func MapHTTPError(status int, msg string, provider string) *types.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &types.Error{
			Code:       types.ErrTransient,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &types.Error{
			Code:       types.ErrTimeout,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	case status >= 500:
		return &types.Error{
			Code:       types.ErrTransient,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  true,
			Provider:   provider,
		}
	default:
		return &types.Error{
			Code:       types.ErrClient,
			Message:    msg,
			HTTPStatus: status,
			Provider:   provider,
		}
	}
}

// WrapTransportError wraps a connection-level failure as a retryable
// transient error.
func WrapTransportError(err error, provider string) *types.Error {
	return &types.Error{
		Code:      types.ErrTransient,
		Message:   "request failed: " + err.Error(),
		Retryable: true,
		Provider:  provider,
		Cause:     err,
	}
}

// ReadErrorMessage extracts the error message from a response body.
// It tries the common JSON error envelope first and falls back to raw
// text, truncated to keep logs sane.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}

	return strings.TrimSpace(string(data))
}

// BearerToken normalizes a configured credential into an Authorization
// header value. Credentials may be stored with or without the prefix.
func BearerToken(apiKey string) string {
	if strings.HasPrefix(apiKey, "Bearer ") {
		return apiKey
	}
	return "Bearer " + apiKey
}

// StripBearer removes a "Bearer " prefix from a configured credential, for
// providers that take the raw key in a non-Authorization header.
func StripBearer(apiKey string) string {
	return strings.TrimPrefix(apiKey, "Bearer ")
}

// SafeCloseBody closes an HTTP response body, ignoring errors.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
