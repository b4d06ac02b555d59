package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrSSRFBlocked means the configured endpoint resolves to a denied
	// address range. Raised before any connection is attempted.
	ErrSSRFBlocked = errors.New("endpoint address blocked")

	// ErrRateLimited means the provider returned 429 and retries were
	// exhausted or disabled.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrStreamTimeout means a streaming response went idle past the
	// configured watchdog interval.
	ErrStreamTimeout = errors.New("stream idle timeout")

	// ErrRetryExhausted means every allowed attempt failed. It wraps the
	// last attempt's error.
	ErrRetryExhausted = errors.New("all dispatch attempts failed")
)

// NetworkFatal marks an error as terminal for this dispatch. Callers surface
// it instead of retrying further.
type NetworkFatal struct {
	Attempts int
	Err      error
}

func (e *NetworkFatal) Error() string {
	return fmt.Sprintf("dispatch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkFatal) Unwrap() error {
	return e.Err
}
