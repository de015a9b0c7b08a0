package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider error so the router and cost gate can decide
// whether to retry, fall back, or surface the failure to the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindAuthentication
	KindRateLimit
	KindValidation
	KindProviderAPI
	KindTimeout
)

// String returns the wire name of the error kind.
func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindValidation:
		return "validation"
	case KindProviderAPI:
		return "provider_api"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether the router should try the next fallback
// candidate for an error of this kind, as opposed to surfacing it directly.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimit, KindProviderAPI, KindTimeout:
		return true
	default:
		return false
	}
}

// Error wraps a vendor-specific failure with a Kind the router can switch
// on without importing any vendor SDK's error types.
type Error struct {
	Provider string
	Kind     Kind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified *Error for the named provider.
func NewError(providerName string, kind Kind, status int, err error) *Error {
	return &Error{Provider: providerName, Kind: kind, Status: status, Err: err}
}

// ClassifyNetworkErr classifies a raw transport-level error (one that never
// reached a vendor status code): a context deadline or cancellation maps to
// KindTimeout, everything else is an undifferentiated KindTransientNetwork.
// Vendor drivers call this as the fallback once vendor-specific error
// unwrapping (a typed API error, an HTTP status) has failed to match.
func ClassifyNetworkErr(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindTransientNetwork
}

// ClassifyHTTPStatus maps an HTTP response status to an error Kind, the
// default classification any vendor driver applies before inspecting a
// response body for vendor-specific detail.
func ClassifyHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindProviderAPI
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// AsProviderError unwraps err looking for a *Error, returning it and true
// on success.
func AsProviderError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
