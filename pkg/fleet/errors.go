package fleet

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a query for an unknown device or detection. It is
// never fatal: callers translate it into an empty result or a 404.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed or incomplete report. A request
// that fails validation is rejected before any side effect is committed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a store failure. Any partial writes for the
// failed request must not trigger observer notification.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
