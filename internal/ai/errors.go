package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// ErrMalformedInput marks a model rejection caused by the request itself
// (oversized payload, invalid content). Retrying the same input cannot
// succeed, so ingestion must skip the offending document instead of
// looping on it.
var ErrMalformedInput = errors.New("malformed model input")

// IsTransient reports whether a model call failure is worth retrying:
// rate limiting, server-side errors, or timeouts. Input rejections and
// auth failures are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}

// classify wraps client-side rejections with ErrMalformedInput so callers
// can distinguish them from transient failures with errors.Is.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
	}
	return err
}
