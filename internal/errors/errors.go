package errors

import (
	"errors"
	"fmt"
)

// HarnessError is the base interface for all harness errors.
type HarnessError interface {
	error
	IsHarnessError() bool
}

// Compile-time verification that all error types implement HarnessError.
var (
	_ HarnessError = (*SpawnError)(nil)
	_ HarnessError = (*ProcessError)(nil)
	_ HarnessError = (*BrokenPipeError)(nil)
	_ HarnessError = (*DecodeError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotStarted indicates the subprocess has not been started.
	ErrNotStarted = errors.New("process not started")

	// ErrAlreadyStarted indicates Start was called on a running process.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrTerminated indicates the subprocess has been terminated and cannot be reused.
	ErrTerminated = errors.New("process terminated: harnesses are single-use, create a new one with New()")

	// ErrStreamClosed indicates the subprocess output stream closed before a
	// matching response arrived.
	ErrStreamClosed = errors.New("output stream closed")

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrDuplicateRequestID indicates a request reused an id that is still in flight.
	ErrDuplicateRequestID = errors.New("request id already in flight")
)

// SpawnError indicates the subprocess could not be launched at all
// (executable missing, permission denied). This is a setup-level fatal
// error: no scenario runs after it.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsHarnessError implements HarnessError.
func (e *SpawnError) IsHarnessError() bool { return true }

// ProcessError indicates the subprocess exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("server process failed (exit %d): %s", e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("server process failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsHarnessError implements HarnessError.
func (e *ProcessError) IsHarnessError() bool { return true }

// BrokenPipeError indicates a write to the subprocess stdin failed because
// the process has exited. Fatal to the current scenario, never retried.
type BrokenPipeError struct {
	Err error
}

func (e *BrokenPipeError) Error() string {
	return fmt.Sprintf("write to server stdin failed: %v", e.Err)
}

func (e *BrokenPipeError) Unwrap() error {
	return e.Err
}

// IsHarnessError implements HarnessError.
func (e *BrokenPipeError) IsHarnessError() bool { return true }

// DecodeError indicates a payload that should have been JSON was not.
// This error preserves the original raw data that failed to parse.
type DecodeError struct {
	RawData string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsHarnessError implements HarnessError.
func (e *DecodeError) IsHarnessError() bool { return true }
