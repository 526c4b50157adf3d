package stdiorpc_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelabs/stdiorpc"
	"github.com/probelabs/stdiorpc/internal/calstub"
)

const helperEnv = "GO_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test. When re-invoked with the helper
// env set, the test binary acts as the server subprocess under test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	defer os.Exit(0)

	mode := "scripted"
	if args := flag.Args(); len(args) > 0 {
		mode = args[0]
	}

	switch mode {
	case "calstub":
		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		_ = calstub.NewServer(log).Serve(context.Background(), os.Stdin, os.Stdout)

	case "exit3":
		fmt.Fprintln(os.Stderr, "fatal: calendar database unavailable")
		os.Exit(3)

	default:
		runScriptedServer()
	}
}

// runScriptedServer answers a fixed method set so the harness paths can
// be exercised deterministically: ping replies, noisy_ping replies after
// noise lines, fail replies with an error member, hang never replies.
func runScriptedServer() {
	fmt.Fprintln(os.Stderr, "helper ready")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}

		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		switch req.Method {
		case "ping":
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}`+"\n", req.ID)

		case "noisy_ping":
			fmt.Println("Loading 3 calendars...")
			fmt.Println(`{"jsonrpc":"2.0","method":"progress","params":{"pct":50}}`)
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}`+"\n", req.ID)

		case "fail":
			fmt.Printf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":"tool failed"}}`+"\n", req.ID)

		case "hang":
			// Never answered; the caller's deadline decides.
		}
	}
}

func helperOptions(mode string) stdiorpc.Options {
	return stdiorpc.Options{
		ServerPath: os.Args[0],
		ServerArgs: []string{"-test.run=TestHelperProcess", "--", mode},
		Env:        []string{helperEnv + "=1"},
	}
}

func startHarness(t *testing.T, mode string) *stdiorpc.Harness {
	t.Helper()

	h := stdiorpc.New(helperOptions(mode))
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })

	return h
}

func TestHarness_CallRoundTrip(t *testing.T) {
	h := startHarness(t, "scripted")

	ex, err := h.Call(context.Background(), "ping", nil, false, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.Success, ex.Outcome)
	assert.JSONEq(t, `{"ok":true}`, string(ex.Response.Result))
	assert.Greater(t, ex.Elapsed, time.Duration(0))

	require.Eventually(t, func() bool {
		return strings.Contains(h.ServerStderr(), "helper ready")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHarness_NoiseLinesAreSkipped(t *testing.T) {
	h := startHarness(t, "scripted")

	ex, err := h.Call(context.Background(), "noisy_ping", nil, false, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.Success, ex.Outcome)
	assert.Equal(t, 1, ex.Malformed, "the plain banner line is malformed; the notification is valid noise")
}

func TestHarness_TimeoutDoesNotPoisonLaterCalls(t *testing.T) {
	h := startHarness(t, "scripted")

	ex, err := h.Call(context.Background(), "hang", nil, false, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.Timeout, ex.Outcome)
	assert.Nil(t, ex.Response)

	// The server is still alive and later exchanges still correlate.
	ex, err = h.Call(context.Background(), "ping", nil, false, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.Success, ex.Outcome)
}

func TestHarness_ErrorResponseClassification(t *testing.T) {
	h := startHarness(t, "scripted")

	ex, err := h.Call(context.Background(), "fail", nil, false, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.ProtocolError, ex.Outcome)
	require.NotNil(t, ex.Response.Error)
	assert.Equal(t, -32000, ex.Response.Error.Code)

	// The same reply is a pass when the step declares it wants the error.
	ex, err = h.Call(context.Background(), "fail", nil, true, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.Success, ex.Outcome)
}

func TestHarness_CallBeforeStart(t *testing.T) {
	h := stdiorpc.New(helperOptions("scripted"))
	t.Cleanup(func() { _ = h.Close() })

	_, err := h.Call(context.Background(), "ping", nil, false, time.Second)
	require.ErrorIs(t, err, stdiorpc.ErrNotStarted)
}

func TestHarness_SpawnFailure(t *testing.T) {
	h := stdiorpc.New(stdiorpc.Options{ServerPath: "/nonexistent/apple-cal-mcp"})
	t.Cleanup(func() { _ = h.Close() })

	err := h.Start(context.Background())
	require.Error(t, err)

	var spawnErr *stdiorpc.SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestHarness_ServerDeathSurfacesOnCall(t *testing.T) {
	h := startHarness(t, "exit3")

	_, err := h.Call(context.Background(), "ping", nil, false, 5*time.Second)
	require.Error(t, err)

	// Depending on reap timing the failure surfaces as the exit result or
	// as the broken transport; either way it is an error, never a timeout
	// outcome.
	var procErr *stdiorpc.ProcessError
	if errors.As(err, &procErr) {
		assert.Equal(t, 3, procErr.ExitCode)
		assert.Contains(t, procErr.Stderr, "calendar database unavailable")
	} else {
		var pipeErr *stdiorpc.BrokenPipeError
		assert.True(t, errors.As(err, &pipeErr) || errors.Is(err, stdiorpc.ErrStreamClosed),
			"unexpected error: %v", err)
	}
}

func TestHarness_StringRequestIDs(t *testing.T) {
	opts := helperOptions("scripted")
	opts.StringIDs = true

	h := stdiorpc.New(opts)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })

	ex, err := h.Call(context.Background(), "ping", nil, false, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, stdiorpc.Success, ex.Outcome)
}

func TestHarness_RunScenarioAgainstCalstub(t *testing.T) {
	h := startHarness(t, "calstub")

	report, err := h.Run(context.Background(), "event-lifecycle", []stdiorpc.Step{
		{
			Name:   "init",
			Method: "initialize",
			Params: map[string]any{"protocolVersion": "2024-11-05"},
		},
		{
			Name:   "create",
			Method: "tools/call",
			Needs:  []string{"init"},
			Params: map[string]any{
				"name": "create_event",
				"arguments": map[string]any{
					"title":          "MCP Test Meeting",
					"start_datetime": "2026-08-26T14:30:00",
					"end_datetime":   "2026-08-26T15:30:00",
				},
			},
			Save: map[string]string{"eventID": "event.id"},
		},
		{
			Name:   "delete",
			Method: "tools/call",
			Needs:  []string{"create"},
			Params: map[string]any{
				"name":      "delete_event",
				"arguments": map[string]any{"event_id": "${eventID}"},
			},
		},
		{
			Name:        "delete-again",
			Method:      "tools/call",
			Needs:       []string{"delete"},
			ExpectError: true,
			Params: map[string]any{
				"name":      "delete_event",
				"arguments": map[string]any{"event_id": "${eventID}"},
			},
		},
	})
	require.NoError(t, err)
	require.True(t, report.OK(), "report: %+v", report.Steps)
	require.Len(t, report.Steps, 4)
	assert.NotEmpty(t, report.RunID)

	created, ok := report.Step("create")
	require.True(t, ok)

	payload, err := created.Unwrap()
	require.NoError(t, err)

	event := payload["event"].(map[string]any)
	assert.True(t, strings.HasPrefix(event["id"].(string), "evt_"))
}

func TestRunSuiteFile(t *testing.T) {
	suiteYAML := `
version: 1
suite: smoke
defaults:
  timeoutMs: 5000
steps:
  - name: init
    method: initialize
  - name: list
    method: tools/list
    needs: [init]
  - name: bad-tool
    method: tools/call
    needs: [init]
    expectError: true
    params:
      name: no_such_tool
`

	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suiteYAML), 0o644))

	report, err := stdiorpc.RunSuiteFile(context.Background(), helperOptions("calstub"), path)
	require.NoError(t, err)
	require.True(t, report.OK(), "report: %+v", report.Steps)
	assert.Equal(t, "smoke", report.Name)
}

func TestHarness_CloseIsIdempotent(t *testing.T) {
	h := startHarness(t, "scripted")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err := h.Call(context.Background(), "ping", nil, false, time.Second)
	require.Error(t, err)
}
