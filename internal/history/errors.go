package history

import (
	"errors"
	"fmt"

	"github.com/roach88/kestrel/internal/ir"
)

// ErrFormatMismatch is returned by Decode when the stream header does not
// match this binary's format version or value registry.
var ErrFormatMismatch = errors.New("history: format mismatch")

// IntegrityFault reports two different payloads recorded under one
// fingerprint. It is fatal: the cache refuses further writes.
type IntegrityFault struct {
	Fingerprint ir.Digest
	Existing    []byte
	Incoming    []byte
}

func (e *IntegrityFault) Error() string {
	return fmt.Sprintf("history integrity fault: fingerprint %s has two payloads (%d and %d bytes)",
		e.Fingerprint.Short(), len(e.Existing), len(e.Incoming))
}

// IsIntegrityFault reports whether err is or wraps an *IntegrityFault.
func IsIntegrityFault(err error) bool {
	var f *IntegrityFault
	return errors.As(err, &f)
}

// SerializationError reports a persisted entry that could not be decoded.
// Decode skips such entries; the operation is recomputed on its next run.
type SerializationError struct {
	Fingerprint ir.Digest
	Err         error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("history entry %s: %v", e.Fingerprint.Short(), e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsSerializationError reports whether err is or wraps a *SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}
