package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSuite = `
version: 1
suite: event-lifecycle
defaults:
  timeoutMs: 5000
steps:
  - name: init
    method: initialize
    params:
      protocolVersion: "2024-11-05"
      clientInfo:
        name: stdiorpc
        version: "0.1.0"
  - name: create
    method: tools/call
    needs: [init]
    timeoutMs: 15000
    params:
      name: create_event
      arguments:
        title: MCP Test Meeting
        start_datetime: "2026-08-26T14:30:00"
        end_datetime: "2026-08-26T15:30:00"
    save:
      eventID: event.id
  - name: delete
    method: tools/call
    needs: [create]
    params:
      name: delete_event
      arguments:
        event_id: "${eventID}"
  - name: delete-again
    method: tools/call
    needs: [create]
    expectError: true
    params:
      name: delete_event
      arguments:
        event_id: "${eventID}"
`

func TestParseSuite(t *testing.T) {
	suite, err := ParseSuite([]byte(sampleSuite))
	require.NoError(t, err)

	assert.Equal(t, "event-lifecycle", suite.Suite)
	require.Len(t, suite.Steps, 4)

	steps := suite.Build()
	require.Len(t, steps, 4)

	assert.Equal(t, 5*time.Second, steps[0].Timeout, "defaults apply when a step has none")
	assert.Equal(t, 15*time.Second, steps[1].Timeout, "step timeout overrides the default")
	assert.Equal(t, map[string]string{"eventID": "event.id"}, steps[1].Save)
	assert.Equal(t, []string{"create"}, steps[2].Needs)
	assert.True(t, steps[3].ExpectError)

	// Params survive as nested maps ready for variable substitution.
	params := steps[2].Params.(map[string]any)
	arguments := params["arguments"].(map[string]any)
	assert.Equal(t, "${eventID}", arguments["event_id"])
}

func TestParseSuite_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"wrong version", "version: 2\nsuite: x\nsteps:\n  - method: a\n", "unsupported suite version"},
		{"missing name", "version: 1\nsteps:\n  - method: a\n", "missing suite name"},
		{"no steps", "version: 1\nsuite: x\n", "no steps"},
		{"step without method", "version: 1\nsuite: x\nsteps:\n  - name: a\n", "no method"},
		{"not yaml", "{{{", "parse suite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSuite([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
