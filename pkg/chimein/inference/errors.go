package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrNoAPIKey is returned when a backend is configured without credentials.
var ErrNoAPIKey = errors.New("inference: api key not configured")

// ErrEmptyResponse is returned when the provider answers with no text.
var ErrEmptyResponse = errors.New("inference: empty response")

// ErrorKind classifies provider errors for retry decisions.
type ErrorKind int

const (
	KindRetryable  ErrorKind = iota // transient 5xx or network failure
	KindRateLimit                   // 429
	KindOverloaded                  // 529 or "overloaded" in body
	KindTimeout                     // request timeout / deadline exceeded
	KindAuth                        // 401, 403
	KindBilling                     // 402 or quota exhausted
	KindBadRequest                  // 400
	KindCanceled                    // caller gave up
	KindFatal                       // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindRateLimit:
		return "rate_limit"
	case KindOverloaded:
		return "overloaded"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindBilling:
		return "billing"
	case KindBadRequest:
		return "bad_request"
	case KindCanceled:
		return "canceled"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsRetryable returns true if the error kind warrants retrying.
func (k ErrorKind) IsRetryable() bool {
	return k == KindRetryable || k == KindRateLimit || k == KindOverloaded || k == KindTimeout
}

// Error is a classified failure of one inference call.
type Error struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error, or classifies it.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ClassifyError(err)
}

// ClassifyError maps SDK, network and context errors to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindFatal
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNoAPIKey):
		return KindAuth
	case errors.Is(err, ErrEmptyResponse):
		return KindRetryable
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return ClassifyStatus(oaErr.StatusCode, oaErr.Message+" "+oaErr.RawJSON())
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return ClassifyStatus(anErr.StatusCode, anErr.RawJSON())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindRetryable
	}
	return KindFatal
}

// ClassifyStatus determines the error kind from an HTTP status code and
// response body.
func ClassifyStatus(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if statusCode == 402 ||
		strings.Contains(bodyLower, "billing") ||
		strings.Contains(bodyLower, "insufficient_quota") ||
		strings.Contains(bodyLower, "payment required") {
		return KindBilling
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return KindRateLimit
	}

	if statusCode == 529 ||
		strings.Contains(bodyLower, "overloaded") {
		return KindOverloaded
	}

	if statusCode == 408 || statusCode == 504 ||
		strings.Contains(bodyLower, "timed out") {
		return KindTimeout
	}

	switch statusCode {
	case 400, 404, 422:
		return KindBadRequest
	case 401, 403:
		return KindAuth
	default:
		if statusCode >= 500 {
			return KindRetryable
		}
		return KindFatal
	}
}
