package downloader

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/bicat/pkg/resolver"
)

// Common errors returned by the downloader.
var (
	// ErrRetryExhausted is matched by terminal failures after the last attempt.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while
	// an item is being fetched or while waiting between attempts.
	ErrContextCancelled = errors.New("context cancelled")
)

// TransportError is a failure to obtain the stream bytes: connection
// errors, timeouts, non-2xx statuses or a broken body read.
type TransportError struct {
	Item     resolver.Item
	Attempts int
	// Exhausted is set when no attempts remain.
	Exhausted bool
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download %s: transport failure after %d attempt(s): %v", e.Item, e.Attempts, e.Err)
}

// Unwrap exposes the cause and, for terminal failures, ErrRetryExhausted.
func (e *TransportError) Unwrap() []error {
	if e.Exhausted {
		return []error{e.Err, ErrRetryExhausted}
	}
	return []error{e.Err}
}

// PersistError is a failure to write, sync or rename the local file.
type PersistError struct {
	Item      resolver.Item
	Path      string
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("download %s: persist %s failed after %d attempt(s): %v", e.Item, e.Path, e.Attempts, e.Err)
}

// Unwrap exposes the cause and, for terminal failures, ErrRetryExhausted.
func (e *PersistError) Unwrap() []error {
	if e.Exhausted {
		return []error{e.Err, ErrRetryExhausted}
	}
	return []error{e.Err}
}

// IsRetryable reports whether err belongs to a failure class the
// downloader retries. Re-running the item later may succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrContextCancelled) {
		return false
	}
	var transportErr *TransportError
	var persistErr *PersistError
	return errors.As(err, &transportErr) || errors.As(err, &persistErr)
}
