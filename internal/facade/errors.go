package facade

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/modelgate/pkg/provider"
)

// ErrorKind is the facade-level error taxonomy from spec.md §7, distinct
// from provider.Kind: it names what a caller should do, not what a vendor
// reported.
type ErrorKind string

const (
	KindValidation           ErrorKind = "Validation"
	KindAuthenticationFailed ErrorKind = "AuthenticationFailed"
	KindRateLimited          ErrorKind = "RateLimited"
	KindCostLimitExceeded    ErrorKind = "CostLimitExceeded"
	KindTierForbidden        ErrorKind = "TierForbidden"
	KindProviderUnavailable  ErrorKind = "ProviderUnavailable"
	KindModelNotFound        ErrorKind = "ModelNotFound"
	KindTaskNotSupported     ErrorKind = "TaskNotSupported"
	KindDeadlineExceeded     ErrorKind = "DeadlineExceeded"
	KindInternal             ErrorKind = "Internal"
)

// GatewayError is the structured error envelope {kind, message, requestId}
// spec.md §7 requires at the boundary: no vendor detail leaks beyond a
// short redacted message.
type GatewayError struct {
	Kind      ErrorKind
	Message   string
	RequestID string
	cause     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s (request %s)", e.Kind, e.Message, e.RequestID)
}

func (e *GatewayError) Unwrap() error { return e.cause }

func newGatewayError(kind ErrorKind, requestID, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, RequestID: requestID, cause: cause}
}

// classifyProviderKind maps a driver's classified provider.Kind onto the
// facade's caller-facing ErrorKind, per spec.md §7's boundary mapping.
func classifyProviderKind(k provider.Kind) ErrorKind {
	switch k {
	case provider.KindAuthentication:
		return KindAuthenticationFailed
	case provider.KindRateLimit:
		return KindRateLimited
	case provider.KindValidation:
		return KindValidation
	case provider.KindTimeout:
		return KindDeadlineExceeded
	case provider.KindTransientNetwork, provider.KindProviderAPI:
		return KindProviderUnavailable
	default:
		return KindInternal
	}
}

// classifyExecError builds the composite-failure GatewayError for a
// router.Execute error, carrying the last candidate's classified kind when
// one is available.
func classifyExecError(requestID string, err error) *GatewayError {
	if pe, ok := provider.AsProviderError(err); ok {
		return newGatewayError(classifyProviderKind(pe.Kind), requestID, pe.Error(), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newGatewayError(KindDeadlineExceeded, requestID, err.Error(), err)
	}
	return newGatewayError(KindProviderUnavailable, requestID, err.Error(), err)
}
