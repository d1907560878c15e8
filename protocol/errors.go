package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// TransportError reports a backend that was unreachable or rejected the
// request. It ends the current turn.
type TransportError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	RetryAfter *time.Duration
	Cause      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ErrorFromStatusCode maps an HTTP status code to a TransportError.
func ErrorFromStatusCode(provider string, statusCode int, message string, cause error) *TransportError {
	te := &TransportError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
	switch statusCode {
	case 400, 401, 403, 404, 413, 422:
		te.Retryable = false
	case 408, 429, 500, 502, 503, 504:
		te.Retryable = true
	default:
		// Unknown errors default to retryable.
		te.Retryable = true
	}
	return te
}

// ClassifyError converts a transport-level error from any backend SDK into a
// *TransportError. Nil stays nil.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Provider: provider, Message: err.Error(), Cause: err}
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		te := ErrorFromStatusCode(provider, oaiErr.StatusCode, strings.TrimSpace(oaiErr.Message), err)
		if te.Message == "" {
			te.Message = err.Error()
		}
		if oaiErr.Response != nil {
			te.RetryAfter = parseRetryAfter(oaiErr.Response.Header.Get("Retry-After"))
		}
		return te
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(provider, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return ErrorFromStatusCode(provider, apiErrPtr.Code, apiErrPtr.Message, err)
	}

	return classifyMessage(provider, err)
}

// classifyMessage guesses a status from the error text, for transports that
// only surface strings.
func classifyMessage(provider string, err error) *TransportError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	status := 0
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		status = 401
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		status = 403
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		status = 404
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		status = 429
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		status = 413
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		status = 500
	case strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "unavailable"):
		status = 503
	case strings.Contains(lower, "timeout"):
		status = 408
	}
	return ErrorFromStatusCode(provider, status, msg, err)
}

func parseRetryAfter(v string) *time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs < 0 {
		return nil
	}
	d := time.Duration(secs * float64(time.Second))
	return &d
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	// Unknown errors default to retryable.
	return true
}
