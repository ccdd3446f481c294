package generation

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRateLimited        = errors.New("rate_limited")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrUnknown            = errors.New("unknown")
)

// Error is a failure of the completion API. Reason is one of the sentinel
// errors above and is what errors.Is matches against.
type Error struct {
	Reason error
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("generate message: %v (HTTP %d): %s", e.Reason, e.Status, e.Detail)
	}
	return fmt.Sprintf("generate message: %v: %s", e.Reason, e.Detail)
}

func (e *Error) Unwrap() error { return e.Reason }

func classify(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrInvalidCredentials
	case status >= 500:
		return ErrServiceUnavailable
	default:
		return ErrUnknown
	}
}

// UserMessage is the text shown next to the message field for a
// generation failure.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "Too many requests to the message generator. Please wait a moment and try again."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid OpenAI API key. Please check your API key and try again."
	case errors.Is(err, ErrServiceUnavailable):
		return "OpenAI service is currently experiencing issues. Please try again later."
	default:
		return "Failed to generate message. Please try again."
	}
}
