// Package stdiorpc is a test harness for newline-delimited JSON-RPC
// servers hosted in a child process.
//
// A Harness owns the server subprocess, its line transport and drain
// pumps, and a request correlator that matches responses strictly by id
// under per-exchange deadlines. Scenarios are ordered step lists with
// data dependencies, run strictly sequentially; each step resolves to a
// terminal outcome (success, protocol_error, timeout, mismatch, or
// skipped) and the accumulated report is handed back to the caller.
//
// Basic use:
//
//	h := stdiorpc.New(stdiorpc.Options{ServerPath: "./server"})
//	if err := h.Start(ctx); err != nil { ... }
//	defer h.Close()
//
//	ex, err := h.Call(ctx, "initialize", params, false, 0)
//
// Declarative scenarios live in YAML suite files and are executed with
// RunSuiteFile, which also owns the full subprocess lifecycle.
package stdiorpc
