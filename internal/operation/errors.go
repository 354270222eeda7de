package operation

import (
	"errors"
	"fmt"

	"github.com/roach88/kestrel/internal/epoch"
)

// ModelError is a domain error returned by an operation's computation.
// It is recoverable: the run records it and keeps going, failing only the
// operations that depend on the failed writes.
type ModelError struct {
	// Op is the operation's ID.
	Op string
	// Key is where the operation was scheduled.
	Key epoch.Key
	// Err is the error the computation returned.
	Err error
	// Replayed is set when the error came from the history cache.
	Replayed bool
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("operation %s at %s: %v", e.Op, e.Key.Time, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// IsModelError reports whether err is or wraps a *ModelError.
func IsModelError(err error) bool {
	var me *ModelError
	return errors.As(err, &me)
}
