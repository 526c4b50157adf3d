package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	harnesserrors "github.com/probelabs/stdiorpc/internal/errors"
)

const toolResult = `{
	"content": [
		{"type": "text", "text": "{\"success\":true,\"event\":{\"id\":\"evt_1\",\"title\":\"Standup\"}}"}
	]
}`

func TestDecode_TypedEnvelope(t *testing.T) {
	env, err := Decode(json.RawMessage(toolResult))
	require.NoError(t, err)
	require.Len(t, env.Content, 1)
	assert.False(t, env.IsError)

	var payload struct {
		Success bool `json:"success"`
		Event   struct {
			ID string `json:"id"`
		} `json:"event"`
	}

	require.NoError(t, env.DecodeText(&payload))
	assert.True(t, payload.Success)
	assert.Equal(t, "evt_1", payload.Event.ID)
}

func TestDecode_NonEnvelopeIsDecodeError(t *testing.T) {
	_, err := Decode(json.RawMessage(`{"protocolVersion":"2024-11-05"}`))
	require.Error(t, err)

	var decodeErr *harnesserrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeText_GarbagePayload(t *testing.T) {
	env, err := Decode(json.RawMessage(`{"content":[{"type":"text","text":"not json"}]}`))
	require.NoError(t, err)

	var payload map[string]any
	err = env.DecodeText(&payload)
	require.Error(t, err)

	var decodeErr *harnesserrors.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "not json", decodeErr.RawData)
}

func TestUnwrap_EnvelopeAndPlainObject(t *testing.T) {
	payload, err := Unwrap(json.RawMessage(toolResult))
	require.NoError(t, err)
	assert.Equal(t, true, payload["success"])

	payload, err = Unwrap(json.RawMessage(`{"tools":[{"name":"create_event"}]}`))
	require.NoError(t, err)
	assert.Contains(t, payload, "tools")
}
