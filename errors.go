package stdiorpc

import "github.com/probelabs/stdiorpc/internal/errors"

// Re-export error types from internal package

// HarnessError is the base interface for all harness errors.
type HarnessError = errors.HarnessError

// SpawnError indicates the server executable could not be launched.
type SpawnError = errors.SpawnError

// ProcessError indicates the server process exited abnormally.
type ProcessError = errors.ProcessError

// BrokenPipeError indicates a write to server stdin failed because the
// process has exited.
type BrokenPipeError = errors.BrokenPipeError

// DecodeError indicates a payload that should have been JSON was not.
type DecodeError = errors.DecodeError

// Re-export sentinel errors from internal package.
var (
	// ErrNotStarted indicates the subprocess has not been started.
	ErrNotStarted = errors.ErrNotStarted

	// ErrAlreadyStarted indicates Start was called on a running harness.
	ErrAlreadyStarted = errors.ErrAlreadyStarted

	// ErrTerminated indicates the harness has been closed and cannot be reused.
	ErrTerminated = errors.ErrTerminated

	// ErrStreamClosed indicates the server output stream closed mid-exchange.
	ErrStreamClosed = errors.ErrStreamClosed

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrDuplicateRequestID indicates a request reused an in-flight id.
	ErrDuplicateRequestID = errors.ErrDuplicateRequestID
)
