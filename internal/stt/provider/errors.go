package provider

import (
	"fmt"
	"net/http"
)

// ClientErrorKind classifies provider 4xx responses.
type ClientErrorKind string

const (
	KindBadRequest       ClientErrorKind = "bad_request"
	KindAuth             ClientErrorKind = "auth"
	KindPayloadTooLarge  ClientErrorKind = "payload_too_large"
	KindUnsupportedMedia ClientErrorKind = "unsupported_media"
	KindRateLimited      ClientErrorKind = "rate_limited"
)

// ClientError is a typed 4xx response from the provider. These are caller
// faults; the HTTP layer does not retry them, but they still count against
// the circuit breaker.
type ClientError struct {
	Kind       ClientErrorKind
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("provider client error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
}

// ProviderError is a 5xx or transport-level failure, treated as transient.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

func classifyStatus(status int, message string) error {
	if status >= 500 {
		return &ProviderError{StatusCode: status, Message: message}
	}

	kind := KindBadRequest
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusRequestEntityTooLarge:
		kind = KindPayloadTooLarge
	case http.StatusUnsupportedMediaType:
		kind = KindUnsupportedMedia
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	}

	return &ClientError{Kind: kind, StatusCode: status, Message: message}
}
