package calstub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelabs/stdiorpc/internal/jsonrpc"
)

// client drives a Server over in-memory pipes the way the harness drives
// a subprocess over stdio.
type client struct {
	t      *testing.T
	in     *io.PipeWriter
	out    *bufio.Scanner
	nextID int64
}

func newClient(t *testing.T) *client {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	server := NewServer(slog.Default())

	done := make(chan error, 1)

	go func() {
		defer outW.Close()

		done <- server.Serve(context.Background(), inR, outW)
	}()

	t.Cleanup(func() {
		inW.Close()
		require.NoError(t, <-done)
	})

	return &client{t: t, in: inW, out: bufio.NewScanner(outR)}
}

func (c *client) call(method string, params any) *jsonrpc.Response {
	c.t.Helper()

	c.nextID++
	req := jsonrpc.NewRequest(jsonrpc.NumberID(c.nextID), method, params)

	data, err := json.Marshal(req)
	require.NoError(c.t, err)

	_, err = c.in.Write(append(data, '\n'))
	require.NoError(c.t, err)

	require.True(c.t, c.out.Scan(), "no response line")

	resp, err := jsonrpc.ParseLine(c.out.Text())
	require.NoError(c.t, err)
	require.NotNil(c.t, resp)
	require.True(c.t, resp.ID.Equal(req.ID))

	return resp
}

func (c *client) toolPayload(resp *jsonrpc.Response) map[string]any {
	c.t.Helper()

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}

	require.NoError(c.t, json.Unmarshal(resp.Result, &result))
	require.NotEmpty(c.t, result.Content)

	var payload map[string]any
	require.NoError(c.t, json.Unmarshal([]byte(result.Content[0].Text), &payload))

	return payload
}

func TestServe_Initialize(t *testing.T) {
	c := newClient(t)

	resp := c.call("initialize", map[string]any{"protocolVersion": protocolTag})
	require.False(t, resp.IsError())

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}

	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocolTag, result.ProtocolVersion)
	assert.Equal(t, serverName, result.ServerInfo.Name)
}

func TestServe_ToolsList(t *testing.T) {
	c := newClient(t)

	resp := c.call("tools/list", nil)
	require.False(t, resp.IsError())

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}

	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 3)
	assert.Equal(t, "create_event", result.Tools[0].Name)
	assert.Equal(t, "object", result.Tools[0].InputSchema["type"])
}

func TestServe_EventLifecycle(t *testing.T) {
	c := newClient(t)

	created := c.toolPayload(c.call("tools/call", map[string]any{
		"name": "create_event",
		"arguments": map[string]any{
			"title":          "MCP Test Meeting",
			"start_datetime": "2026-08-26T14:30:00",
			"end_datetime":   "2026-08-26T15:30:00",
			"location":       "Conference Room A",
		},
	}))
	require.Equal(t, true, created["success"])

	event := created["event"].(map[string]any)
	eventID := event["id"].(string)
	assert.NotEmpty(t, eventID)
	assert.Equal(t, "MCP Test Meeting", event["title"])

	listed := c.toolPayload(c.call("tools/call", map[string]any{"name": "list_events"}))
	events := listed["events"].([]any)
	require.Len(t, events, 1)

	deleted := c.toolPayload(c.call("tools/call", map[string]any{
		"name":      "delete_event",
		"arguments": map[string]any{"event_id": eventID},
	}))
	assert.Equal(t, true, deleted["success"])

	// A second delete must be rejected: the event is gone.
	resp := c.call("tools/call", map[string]any{
		"name":      "delete_event",
		"arguments": map[string]any{"event_id": eventID},
	})
	require.True(t, resp.IsError())
	assert.Equal(t, codeToolFailed, resp.Error.Code)
}

func TestServe_UnknownToolIsError(t *testing.T) {
	c := newClient(t)

	resp := c.call("tools/call", map[string]any{"name": "no_such_tool"})
	require.True(t, resp.IsError())
	assert.Equal(t, codeToolFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "no_such_tool")
}

func TestServe_MethodNotFound(t *testing.T) {
	c := newClient(t)

	resp := c.call("calendar/teleport", nil)
	require.True(t, resp.IsError())
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestServe_CreateValidation(t *testing.T) {
	c := newClient(t)

	resp := c.call("tools/call", map[string]any{
		"name":      "create_event",
		"arguments": map[string]any{"title": "No times"},
	})
	require.True(t, resp.IsError())
}

func TestServe_NotificationsAndGarbage(t *testing.T) {
	c := newClient(t)

	// A notification (no id) gets no response; garbage gets a parse
	// error line. The next real call must still correlate.
	_, err := c.in.Write([]byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}` + "\n"))
	require.NoError(t, err)

	_, err = c.in.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	require.True(t, c.out.Scan())

	resp, perr := jsonrpc.ParseLine(c.out.Text())
	require.NoError(t, perr)
	require.NotNil(t, resp)
	require.True(t, resp.IsError())
	assert.Equal(t, codeParseError, resp.Error.Code)
	assert.True(t, resp.ID.IsZero())

	resp = c.call("tools/list", nil)
	assert.False(t, resp.IsError())
}

func TestCallTool_Direct(t *testing.T) {
	server := NewServer(slog.Default())

	args, err := json.Marshal(map[string]any{
		"title":          "Direct",
		"start_datetime": "2026-08-26T10:00:00",
		"end_datetime":   "2026-08-26T11:00:00",
	})
	require.NoError(t, err)

	result, err := server.CallTool(context.Background(), "create_event", args)
	require.NoError(t, err)
	require.NotNil(t, result)

	_, err = server.CallTool(context.Background(), "missing_tool", nil)
	require.Error(t, err)
	assert.Equal(t, fmt.Sprintf("unknown tool %q", "missing_tool"), err.Error())
}
