// Package outcome classifies completed exchanges. The classifier only
// looks at which member the response carries and the caller's
// expect-error assertion; it never special-cases individual error codes.
package outcome

import (
	"fmt"

	"github.com/probelabs/stdiorpc/internal/jsonrpc"
)

// Outcome is the terminal classification of one step or exchange.
type Outcome string

// The possible outcomes.
const (
	// Success: the server behaved as the step asserted (a result when one
	// was expected, or an error when one was expected).
	Success Outcome = "success"

	// ProtocolError: the server returned an error the step did not expect.
	ProtocolError Outcome = "protocol_error"

	// Timeout: no matching response arrived before the deadline.
	Timeout Outcome = "timeout"

	// Mismatch: the step expected a failure but the server succeeded.
	Mismatch Outcome = "mismatch"

	// Skipped: a prerequisite step did not succeed, so this step was
	// never attempted.
	Skipped Outcome = "skipped"
)

// Classify maps a matched response and the exchange's expect-error flag
// to an outcome.
func Classify(resp *jsonrpc.Response, expectError bool) Outcome {
	switch {
	case resp.IsError() && expectError:
		return Success
	case resp.IsError():
		return ProtocolError
	case expectError:
		return Mismatch
	default:
		return Success
	}
}

// Describe renders a short diagnostic for a classified response, carrying
// the error code and message when the server rejected the request.
func Describe(o Outcome, resp *jsonrpc.Response) string {
	switch o {
	case ProtocolError:
		return fmt.Sprintf("server error %d: %s", resp.Error.Code, resp.Error.Message)
	case Mismatch:
		return "expected failure, got success"
	case Timeout:
		return "no matching response before deadline"
	default:
		return ""
	}
}
