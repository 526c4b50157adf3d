package stdiorpc

import (
	"encoding/json"

	"github.com/probelabs/stdiorpc/internal/correlate"
	"github.com/probelabs/stdiorpc/internal/envelope"
	"github.com/probelabs/stdiorpc/internal/jsonrpc"
	"github.com/probelabs/stdiorpc/internal/outcome"
	"github.com/probelabs/stdiorpc/internal/scenario"
)

// Re-export wire types from internal packages.

// ID is a JSON-RPC request id: an integer or a string.
type ID = jsonrpc.ID

// Request is one outgoing JSON-RPC call.
type Request = jsonrpc.Request

// Response is one incoming reply: exactly one of Result or Error is set.
type Response = jsonrpc.Response

// RPCError is the error member of a failed response.
type RPCError = jsonrpc.Error

// NumberID returns an integer request id.
func NumberID(n int64) ID { return jsonrpc.NumberID(n) }

// StringID returns a string request id.
func StringID(s string) ID { return jsonrpc.StringID(s) }

// Outcome is the terminal classification of one step or exchange.
type Outcome = outcome.Outcome

// The possible outcomes.
const (
	Success       = outcome.Success
	ProtocolError = outcome.ProtocolError
	Timeout       = outcome.Timeout
	Mismatch      = outcome.Mismatch
	Skipped       = outcome.Skipped
)

// Exchange is one completed request/response pair, classified.
type Exchange = correlate.Exchange

// Step is one declarative scenario entry.
type Step = scenario.Step

// StepResult is the immutable record of one completed (or skipped) step.
type StepResult = scenario.StepResult

// Report accumulates the ordered step results of one scenario run.
type Report = scenario.Report

// SuiteFile is the declarative YAML scenario format.
type SuiteFile = scenario.SuiteFile

// LoadSuite reads and validates a YAML suite file.
func LoadSuite(path string) (*SuiteFile, error) {
	return scenario.LoadSuite(path)
}

// ParseSuite decodes and validates suite YAML.
func ParseSuite(data []byte) (*SuiteFile, error) {
	return scenario.ParseSuite(data)
}

// UnwrapResult extracts the structured payload from a result member,
// unwrapping the tool-result content envelope when present.
func UnwrapResult(result json.RawMessage) (map[string]any, error) {
	return envelope.Unwrap(result)
}
