package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrOrderNotFound is returned by Broker.GetOrderByID when the order
// has left the open-order book. For a market order that usually means
// it filled; callers confirm against the position snapshot.
var ErrOrderNotFound = errors.New("order not found in open orders")

// GatewayError represents a broker API error with additional context
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *GatewayError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("gateway error %d: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// Common gateway error codes
const (
	ErrCodeInvalidAPIKey     = 10003
	ErrCodeInvalidSignature  = 10004
	ErrCodeInvalidTimestamp  = 10005
	ErrCodeRateLimitExceeded = 10006
	ErrCodeInsufficientFunds = 110007
	ErrCodeSymbolNotFound    = 110009
	ErrCodeInvalidQuantity   = 110020
	ErrCodeMarketClosed      = 110043
)

// NewGatewayError creates a new GatewayError
func NewGatewayError(code int, message string, details ...string) *GatewayError {
	err := &GatewayError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// IsRetryable determines if an error should be retried. Only transient
// transport and rate-limit failures qualify; order rejections never do.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		switch gwErr.Code {
		case ErrCodeRateLimitExceeded,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		switch gwErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// WrapAPIError wraps a generic error with the failing operation's name
func WrapAPIError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		gwErr.Details = fmt.Sprintf("operation: %s", operation)
		return gwErr
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

// ParseAPIError converts a gateway response code into an error, nil on success
func ParseAPIError(retCode int, retMsg string) error {
	if retCode == 0 {
		return nil
	}
	return NewGatewayError(retCode, retMsg)
}
