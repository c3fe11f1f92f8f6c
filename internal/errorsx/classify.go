// Package errorsx classifies errors as transient or permanent so callers
// know whether a bounded retry is worthwhile. Trimmed from the teacher's
// broader LLM-error-formatting package down to the classification this
// module's Store retry path actually needs.
package errorsx

import (
	"errors"
	"strings"
)

// TransientError marks an error explicitly as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransient wraps err as an explicitly transient error.
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is worth retrying: either explicitly
// marked transient, or a recognizable SQLite lock-contention error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"database is locked",
		"busy",
		"sqlite_busy",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
