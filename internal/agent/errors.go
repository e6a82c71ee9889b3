package agent

import (
	"errors"
	"fmt"
)

// ErrRecorderBusy is returned by Recorder.Start while a session exists.
var ErrRecorderBusy = errors.New("recorder busy")

// ProcessError reports a capture process that failed to start or left
// no usable output.
type ProcessError struct {
	Op  string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// NetworkError reports a failed request to the coordinator. StatusCode
// is zero when no response arrived.
type NetworkError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: http %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
