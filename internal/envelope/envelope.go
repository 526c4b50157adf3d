// Package envelope decodes the content envelope that tool-call results
// arrive in: a list of typed content items whose text item carries a
// nested serialized JSON payload. Decoding is a tagged step that yields a
// typed envelope or a decode error, never speculative field access.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/probelabs/stdiorpc/internal/errors"
)

// Item is one entry of the content list.
type Item struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Envelope is the generic content wrapper around a tool result.
type Envelope struct {
	Content []Item `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Decode parses a result member as a content envelope.
func Decode(result json.RawMessage) (*Envelope, error) {
	if len(result) == 0 {
		return nil, &errors.DecodeError{RawData: "", Err: fmt.Errorf("empty result")}
	}

	var env Envelope
	if err := json.Unmarshal(result, &env); err != nil {
		return nil, &errors.DecodeError{RawData: string(result), Err: err}
	}

	if env.Content == nil {
		return nil, &errors.DecodeError{
			RawData: string(result),
			Err:     fmt.Errorf("result has no content list"),
		}
	}

	return &env, nil
}

// Text returns the first text content item.
func (e *Envelope) Text() (string, error) {
	for _, item := range e.Content {
		if item.Type == "text" {
			return item.Text, nil
		}
	}

	return "", fmt.Errorf("envelope has no text content")
}

// DecodeText unmarshals the nested JSON payload carried by the first text
// item into v.
func (e *Envelope) DecodeText(v any) error {
	text, err := e.Text()
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return &errors.DecodeError{RawData: text, Err: err}
	}

	return nil
}

// Unwrap extracts the structured payload from a result member. Results
// shaped as a content envelope yield their nested JSON object; results
// that are plain objects (initialize metadata, tools/list) decode
// directly.
func Unwrap(result json.RawMessage) (map[string]any, error) {
	env, err := Decode(result)
	if err == nil {
		var payload map[string]any
		if derr := env.DecodeText(&payload); derr != nil {
			return nil, derr
		}

		return payload, nil
	}

	var payload map[string]any
	if uerr := json.Unmarshal(result, &payload); uerr != nil {
		return nil, &errors.DecodeError{RawData: string(result), Err: uerr}
	}

	return payload, nil
}
