// Package errors defines the error types and sentinel errors used by the
// harness. All typed errors implement the HarnessError marker interface
// and support errors.Is/As unwrapping.
package errors
