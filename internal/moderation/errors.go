package moderation

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrBackendNotConfigured means no AI provider credentials are available.
	ErrBackendNotConfigured = errors.New("ai backend not configured")
	// ErrContentNotFound is returned when the content id does not resolve.
	ErrContentNotFound = errors.New("content not found")
)

type ProviderErrorKind int

const (
	// ProviderTransient covers connection failures, timeouts and 5xx responses.
	ProviderTransient ProviderErrorKind = iota
	// ProviderPermanent covers auth failures, rate limits and malformed requests.
	ProviderPermanent
)

func (k ProviderErrorKind) String() string {
	if k == ProviderTransient {
		return "transient"
	}
	return "permanent"
}

// ProviderError is a classified failure returned by a Backend.
type ProviderError struct {
	Kind       ProviderErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewTransientError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Kind: ProviderTransient, Provider: provider, StatusCode: status, Err: err}
}

func NewPermanentError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Kind: ProviderPermanent, Provider: provider, StatusCode: status, Err: err}
}

// ClassifyStatus picks the error kind for an HTTP status code.
// 408 and 5xx are transient; every other 4xx, including 429, is permanent.
func ClassifyStatus(status int) ProviderErrorKind {
	if status == 408 || status >= 500 {
		return ProviderTransient
	}
	return ProviderPermanent
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderTransient
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isProviderFailure reports whether err came from talking to the provider,
// as opposed to a local processing bug.
func isProviderFailure(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
