// Package subprocess launches and supervises the server under test: the
// line transport on its stdin/stdout/stderr pipes, the per-stream drain
// pumps, and the NotStarted → Running → Terminating → Terminated
// lifecycle with a bounded grace period before forced kill.
package subprocess
