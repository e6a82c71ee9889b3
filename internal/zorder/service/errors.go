package service

import "errors"

var (
	// ErrMissingField matches every *ValidationError via errors.Is.
	ErrMissingField = errors.New("missing required field")

	ErrFileMissing  = errors.New("file missing")
	ErrHashMismatch = errors.New("file_hash_mismatch")
	// ErrNotifyFailed wraps owner messaging failures.
	ErrNotifyFailed = errors.New("notify owner")
)

// ValidationError names the required field that was empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return "missing " + e.Field }

func (e *ValidationError) Is(target error) bool { return target == ErrMissingField }
