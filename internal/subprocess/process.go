package subprocess

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/probelabs/stdiorpc/internal/errors"
	"github.com/probelabs/stdiorpc/internal/stream"
)

const (
	// defaultGracePeriod bounds how long Terminate waits for natural exit
	// after the termination signal before forcing a kill.
	defaultGracePeriod = 3 * time.Second

	// defaultQueueDepth is the per-stream drain queue capacity. Test
	// volumes are small; a pump only blocks if a scenario backlogs this
	// many unread lines, and Terminate unblocks it regardless.
	defaultQueueDepth = 256

	// maxStderrTailSize caps the stderr buffer kept for error reporting.
	// The callback still receives every line; only the buffer stops growing.
	maxStderrTailSize = 1 * 1024 * 1024 // 1MB
)

// State is the lifecycle state of the server subprocess.
type State int

// Lifecycle states, in transition order.
const (
	NotStarted State = iota
	Running
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures the server subprocess.
type Options struct {
	// Path is the server executable to launch.
	Path string

	// Args are passed to the executable as-is.
	Args []string

	// Env entries are appended to the inherited environment.
	Env []string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// WarmUp is slept after launch, before Start returns, so the first
	// request does not race the server's own startup window.
	WarmUp time.Duration

	// GracePeriod bounds Terminate's wait for natural exit. Zero means
	// defaultGracePeriod.
	GracePeriod time.Duration

	// QueueDepth is the per-stream drain queue capacity. Zero means
	// defaultQueueDepth.
	QueueDepth int

	// Stderr, when set, receives every stderr line as it arrives.
	Stderr func(string)
}

// Process owns one server subprocess: the line transport on its pipes,
// the two drain pumps, and the termination state machine. A Process is
// single-use; after Terminate it cannot be restarted.
type Process struct {
	log  *slog.Logger
	opts Options

	mu          sync.Mutex // protects state, cmd, stdin writes
	state       State
	closing     bool // Terminate was requested (intentional shutdown)
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdinClosed bool

	stdout chan stream.RawLine
	stderr chan stream.RawLine

	pumps      *errgroup.Group
	pumpCancel context.CancelFunc

	tailMu sync.Mutex
	tail   strings.Builder

	done    chan struct{} // closed once the process has been reaped
	waitErr error         // cmd.Wait result, valid after done closes
}

// New creates a process wrapper. The subprocess is not launched until Start.
func New(log *slog.Logger, opts Options) *Process {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}

	if opts.QueueDepth <= 0 {
		opts.QueueDepth = defaultQueueDepth
	}

	return &Process{
		log:  log.With("component", "subprocess"),
		opts: opts,
		done: make(chan struct{}),
	}
}

// Start launches the subprocess, wires up the pipes and drain pumps, and
// honors the configured warm-up delay before returning.
//
// Returns SpawnError if the executable cannot be launched; that is a
// setup-level fatal error terminating the whole run.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()

	if p.state != NotStarted {
		p.mu.Unlock()

		if p.state == Running {
			return errors.ErrAlreadyStarted
		}

		return errors.ErrTerminated
	}

	p.log.Info("Starting server subprocess", "path", p.opts.Path, "args", p.opts.Args)

	//nolint:gosec // G204: launching a caller-configured server binary is the point
	cmd := exec.Command(p.opts.Path, p.opts.Args...)
	cmd.Dir = p.opts.Dir

	if len(p.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), p.opts.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.mu.Unlock()

		return &errors.SpawnError{Path: p.opts.Path, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()

		return &errors.SpawnError{Path: p.opts.Path, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.mu.Unlock()

		return &errors.SpawnError{Path: p.opts.Path, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		p.log.Error("Failed to start server process", "error", err)

		return &errors.SpawnError{Path: p.opts.Path, Err: err}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.state = Running
	p.stdout = make(chan stream.RawLine, p.opts.QueueDepth)
	p.stderr = make(chan stream.RawLine, p.opts.QueueDepth)

	pumpCtx, cancel := context.WithCancel(context.Background())
	p.pumpCancel = cancel

	g := &errgroup.Group{}
	p.pumps = g

	g.Go(func() error {
		return stream.Pump(pumpCtx, p.log, stream.OriginStdout, stdout, p.stdout)
	})
	g.Go(func() error {
		return stream.Pump(pumpCtx, p.log, stream.OriginStderr, stderr, p.stderr)
	})

	// Diagnostics-only stderr consumer: buffers a bounded tail for error
	// reporting and forwards lines to the callback. The correlator never
	// reads this queue.
	go p.drainStderr()

	// Reaper: waits for both pumps to hit end-of-stream before reaping the
	// process (pipe reads must complete before Wait, per os/exec docs).
	go p.reap()

	p.log.Info("Server subprocess started", "pid", cmd.Process.Pid)
	p.mu.Unlock()

	if p.opts.WarmUp > 0 {
		p.log.Debug("Honoring warm-up delay", "warm_up", p.opts.WarmUp)

		select {
		case <-time.After(p.opts.WarmUp):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// drainStderr consumes the stderr drain queue for diagnostics.
func (p *Process) drainStderr() {
	for line := range p.stderr {
		p.tailMu.Lock()

		if p.tail.Len() < maxStderrTailSize {
			if p.tail.Len() > 0 {
				p.tail.WriteString("\n")
			}

			p.tail.WriteString(line.Text)
		}

		p.tailMu.Unlock()

		if p.opts.Stderr != nil {
			p.opts.Stderr(line.Text)
		}
	}
}

// reap waits for the pumps and the process, records the exit result, and
// closes done.
func (p *Process) reap() {
	if err := p.pumps.Wait(); err != nil {
		p.log.Debug("Drain pump stopped early", "error", err)
	}

	err := p.cmd.Wait()

	p.mu.Lock()
	p.waitErr = err
	p.state = Terminated
	p.stdinClosed = true
	p.mu.Unlock()

	if err != nil {
		p.log.Debug("Server process exited", "error", err)
	} else {
		p.log.Info("Server process exited cleanly")
	}

	close(p.done)
}

// StdoutLines returns the stdout drain queue. The correlator must be its
// only consumer. The channel closes when the stream closes.
func (p *Process) StdoutLines() <-chan stream.RawLine {
	return p.stdout
}

// WriteLine writes one line to the server's stdin, appending the newline
// terminator. Writes are serialized and flushed immediately (the pipe is
// unbuffered on our side). A write that fails because the process exited
// surfaces as BrokenPipeError, which is fatal to the scenario.
func (p *Process) WriteLine(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == NotStarted {
		return errors.ErrNotStarted
	}

	if p.stdinClosed || p.stdin == nil {
		return &errors.BrokenPipeError{Err: errors.ErrTerminated}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Explicit copy so a caller's slice with spare capacity is not mutated.
	if len(data) == 0 || data[len(data)-1] != '\n' {
		buf := make([]byte, len(data)+1)
		copy(buf, data)
		buf[len(data)] = '\n'
		data = buf
	}

	// Write in a goroutine so a blocked pipe write still respects
	// context cancellation.
	done := make(chan error, 1)

	go func() {
		_, err := p.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			p.log.Error("Failed to write to server stdin", "error", err)

			return &errors.BrokenPipeError{Err: err}
		}

		return nil

	case <-ctx.Done():
		p.log.Debug("Context cancelled during write, closing stdin")

		_ = p.stdin.Close()
		p.stdinClosed = true

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			p.log.Warn("Write goroutine did not exit after stdin close")
		}

		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// StderrTail returns the buffered stderr captured so far.
func (p *Process) StderrTail() string {
	p.tailMu.Lock()
	defer p.tailMu.Unlock()

	return p.tail.String()
}

// ExitResult reports how the process ended. It returns nil before exit,
// nil after an exit that followed an intentional Terminate, and a
// ProcessError (exit code plus captured stderr) after an unexpected death.
func (p *Process) ExitResult() error {
	select {
	case <-p.done:
	default:
		return nil
	}

	p.mu.Lock()
	err := p.waitErr
	closing := p.closing
	p.mu.Unlock()

	if err == nil || closing {
		return nil
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	return &errors.ProcessError{
		ExitCode: exitCode,
		Stderr:   p.StderrTail(),
		Err:      err,
	}
}

// Terminate moves the process through Terminating to Terminated: it sends
// the graceful termination signal, waits up to the grace period for
// natural exit, and forces a kill past that. The transition is
// unconditional; a hung subprocess never leaks past the grace period.
//
// Terminate is idempotent and safe to call from any state.
func (p *Process) Terminate(ctx context.Context) error {
	p.mu.Lock()

	switch p.state {
	case NotStarted:
		p.state = Terminated
		p.mu.Unlock()

		return nil

	case Terminated:
		p.mu.Unlock()

		return nil

	case Terminating:
		p.mu.Unlock()
		// Another caller is already driving the transition; it always
		// completes, so waiting on done is bounded.
		<-p.done

		return nil

	case Running:
	}

	p.state = Terminating
	p.closing = true
	p.stdinClosed = true
	proc := p.cmd.Process
	p.mu.Unlock()

	p.log.Debug("Terminating server process", "pid", proc.Pid, "grace", p.opts.GracePeriod)

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		p.log.Debug("Termination signal failed, process may have exited", "error", err)
	}

	// Unblock any pump stuck handing off a line nobody will read.
	p.pumpCancel()

	kill := func() {
		if err := proc.Kill(); err != nil {
			p.log.Debug("Kill failed, process may have exited", "error", err)
		}
	}

	select {
	case <-p.done:
		p.log.Debug("Server exited within grace period")

	case <-time.After(p.opts.GracePeriod):
		p.log.Warn("Grace period elapsed, killing server process", "pid", proc.Pid)
		kill()
		<-p.done

	case <-ctx.Done():
		p.log.Debug("Termination context cancelled, killing server process")
		kill()
		<-p.done
	}

	p.mu.Lock()
	p.state = Terminated
	p.mu.Unlock()

	return nil
}

// Close terminates the process with a background context. Safe to call
// multiple times.
func (p *Process) Close() error {
	return p.Terminate(context.Background())
}
