package polygon

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when a client is constructed without credentials.
// Fatal at startup.
var ErrMissingAPIKey = errors.New("polygon: API key not set")

// ProviderError wraps an upstream failure. Retryable errors (5xx, timeouts,
// malformed bodies) are retried by the client within its budget; permanent
// 4xx errors surface immediately.
type ProviderError struct {
	Op        string // endpoint shorthand, e.g. "gainers", "aggs"
	Status    int    // HTTP status, 0 for transport errors
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("polygon %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("polygon %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsAuthError reports whether err is a credential rejection (fatal).
func IsAuthError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && (pe.Status == 401 || pe.Status == 403)
}
