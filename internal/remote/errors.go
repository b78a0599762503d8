package remote

import "errors"

// Standard errors, split along the retry taxonomy: transient errors
// are retried with backoff and never drop queued work; fatal errors
// pause sync until the condition is externally resolved.
var (
	// Transient
	ErrOffline     = errors.New("remote: no connectivity")
	ErrRateLimited = errors.New("remote: rate limited")
	ErrUnavailable = errors.New("remote: service temporarily unavailable")

	// Fatal
	ErrAuth          = errors.New("remote: authentication failed")
	ErrQuotaExceeded = errors.New("remote: storage quota exceeded")
	ErrScopeDeleted  = errors.New("remote: owner scope deleted")
)

// Error classification functions

// IsOffline checks if error means the network is unreachable
func IsOffline(err error) bool {
	return errors.Is(err, ErrOffline)
}

// IsTransient checks if error is worth retrying with backoff
func IsTransient(err error) bool {
	return errors.Is(err, ErrOffline) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable)
}

// IsFatal checks if error pauses sync until externally resolved
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrScopeDeleted)
}
