// Package retry classifies chain and oracle errors and computes backoff delays.
package retry

import (
	"context"
	"errors"
	"time"
)

// Class partitions errors into ones worth retrying and ones that never succeed.
type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type classifiedError struct {
	err   error
	class Class
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Terminal marks an error as permanent: an on-chain revert, a program error,
// or a violated precondition. Retrying it cannot change the outcome.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTerminal}
}

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ClassTransient}
}

// IsTerminal reports whether err was marked Terminal. Unmarked errors are
// treated as transient: an RPC hiccup must not burn a transfer.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var marked *classifiedError
	if errors.As(err, &marked) {
		return marked.class == ClassTerminal
	}
	return errors.Is(err, context.Canceled)
}

// Backoff returns the delay before retry attempt n (1-based): base * 2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}
