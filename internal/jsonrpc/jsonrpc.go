package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Version is the protocol version tag carried by every request.
const Version = "2.0"

// ID is a JSON-RPC request id: an integer or a string. The zero value is
// the absent id (serialized as null), which the harness never sends but
// may receive on malformed server output.
type ID struct {
	val any // nil, string, or json.Number
}

// NumberID returns an integer id.
func NumberID(n int64) ID {
	return ID{val: json.Number(strconv.FormatInt(n, 10))}
}

// StringID returns a string id.
func StringID(s string) ID {
	return ID{val: s}
}

// IsZero reports whether the id is absent.
func (id ID) IsZero() bool {
	return id.val == nil
}

// Equal reports whether two ids have the same type and value. An integer
// id never equals a string id with the same digits.
func (id ID) Equal(other ID) bool {
	return id.val == other.val
}

func (id ID) String() string {
	switch v := id.val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return "<none>"
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.val == nil {
		return []byte("null"), nil
	}

	return json.Marshal(id.val)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are kept as
// json.Number so integer ids round-trip without float conversion.
func (id *ID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}

	switch v.(type) {
	case nil, string, json.Number:
		id.val = v
	default:
		return fmt.Errorf("invalid id type %T", v)
	}

	return nil
}

// Request is one outgoing JSON-RPC call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      ID     `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request with the protocol version tag set.
func NewRequest(id ID, method string, params any) *Request {
	return &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Error is the error member of a failed response. Codes follow the
// standard JSON-RPC reserved ranges; any negative integer is valid.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is one incoming reply: exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsError reports whether the response carries an error member.
func (r *Response) IsError() bool {
	return r.Error != nil
}

// ParseLine attempts to read one stdout line as a response.
//
// Returns (nil, nil) for lines that are not candidate responses and must
// simply be skipped: blank lines, and valid JSON that carries neither a
// result nor an error member (e.g. server-initiated notifications).
// Returns an error only when a non-blank line is not valid JSON at all,
// which the correlator records as a malformed-response observation, never
// as a harness fault.
func ParseLine(line string) (*Response, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, nil
	}

	var resp Response
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, fmt.Errorf("parse response line: %w", err)
	}

	// A response carries exactly one of result or error. Anything else on
	// stdout is diagnostic noise or a notification, not a response.
	if resp.Result == nil && resp.Error == nil {
		return nil, nil
	}

	return &resp, nil
}
