// Package jsonrpc holds the wire types for the newline-delimited JSON-RPC
// conversation: requests, responses, and ids. It covers only the shapes
// the harness needs for correlation, not a full protocol implementation.
package jsonrpc
