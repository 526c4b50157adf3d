package stdiorpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/probelabs/stdiorpc/internal/correlate"
	"github.com/probelabs/stdiorpc/internal/jsonrpc"
	"github.com/probelabs/stdiorpc/internal/scenario"
	"github.com/probelabs/stdiorpc/internal/subprocess"
)

// defaultCallTimeout bounds an exchange when the caller passes no timeout.
const defaultCallTimeout = 10 * time.Second

// Options configures a Harness.
type Options struct {
	// ServerPath is the server executable to launch.
	ServerPath string

	// ServerArgs are passed to the executable as-is (e.g. a verbosity flag).
	ServerArgs []string

	// Env entries are appended to the inherited environment.
	Env []string

	// Dir is the subprocess working directory. Empty means inherit.
	Dir string

	// WarmUp is honored after launch before the first request, to avoid
	// racing the server's own startup window. Default 0: servers that
	// buffer stdin need no delay.
	WarmUp time.Duration

	// DefaultTimeout bounds each exchange when a step or call does not
	// set its own. Zero means 10s.
	DefaultTimeout time.Duration

	// GracePeriod bounds graceful termination before a forced kill.
	// Zero means 3s.
	GracePeriod time.Duration

	// QueueDepth overrides the per-stream drain queue capacity.
	QueueDepth int

	// StringIDs switches request ids from a numeric counter to ULID
	// strings. Either way the harness never reuses an in-flight id.
	StringIDs bool

	// Stderr, when set, receives every server stderr line as it arrives.
	// Stderr is never parsed as protocol data.
	Stderr func(string)

	// Logger receives harness diagnostics. Nil means no logging.
	Logger *slog.Logger
}

// Harness owns one server subprocess and drives correlated JSON-RPC
// exchanges against it. Construct with New, launch with Start, and always
// Close: Close drives the termination state machine, so the subprocess
// and its pumps never outlive the harness, even on abort.
type Harness struct {
	log  *slog.Logger
	opts Options

	proc *subprocess.Process
	corr *correlate.Correlator

	nextID atomic.Int64

	mu      sync.Mutex
	started bool
	closed  bool
}

// Compile-time verification that Harness drives the conversation runner.
var _ scenario.Caller = (*Harness)(nil)

// New creates a harness. The subprocess is not launched until Start.
func New(opts Options) *Harness {
	if opts.Logger == nil {
		opts.Logger = NopLogger()
	}

	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultCallTimeout
	}

	log := opts.Logger.With("component", "harness")

	proc := subprocess.New(opts.Logger, subprocess.Options{
		Path:        opts.ServerPath,
		Args:        opts.ServerArgs,
		Env:         opts.Env,
		Dir:         opts.Dir,
		WarmUp:      opts.WarmUp,
		GracePeriod: opts.GracePeriod,
		QueueDepth:  opts.QueueDepth,
		Stderr:      opts.Stderr,
	})

	return &Harness{
		log:  log,
		opts: opts,
		proc: proc,
		corr: correlate.New(opts.Logger, proc),
	}
}

// Start launches the server subprocess and honors the warm-up delay.
func (h *Harness) Start(ctx context.Context) error {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()

		return ErrTerminated
	}

	if h.started {
		h.mu.Unlock()

		return ErrAlreadyStarted
	}

	h.started = true
	h.mu.Unlock()

	return h.proc.Start(ctx)
}

// Call sends one request and blocks until its matching response, the
// timeout (DefaultTimeout when zero), or context cancellation.
//
// Timeouts and error responses resolve to the Exchange's Outcome; only
// transport failures return an error. When the server process has died,
// the error carries its exit code and captured stderr.
func (h *Harness) Call(
	ctx context.Context,
	method string,
	params any,
	expectError bool,
	timeout time.Duration,
) (*Exchange, error) {
	h.mu.Lock()

	if !h.started {
		h.mu.Unlock()

		return nil, ErrNotStarted
	}

	h.mu.Unlock()

	if timeout <= 0 {
		timeout = h.opts.DefaultTimeout
	}

	req := jsonrpc.NewRequest(h.newRequestID(), method, params)

	ex, err := h.corr.Send(ctx, req, timeout, expectError)
	if err != nil {
		// A dead server explains broken pipes and closed streams better
		// than the raw write error does.
		if exitErr := h.proc.ExitResult(); exitErr != nil {
			return nil, fmt.Errorf("call %s: %w", method, exitErr)
		}

		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	return ex, nil
}

// newRequestID returns the next unique request id: a monotonic integer,
// or a ULID string when Options.StringIDs is set.
func (h *Harness) newRequestID() ID {
	if h.opts.StringIDs {
		return jsonrpc.StringID(ulid.Make().String())
	}

	return jsonrpc.NumberID(h.nextID.Add(1))
}

// Run executes a scenario against the running server. Per-step failures
// resolve to outcomes in the report; a transport failure aborts the run,
// closes the harness, and is returned alongside the partial report.
func (h *Harness) Run(ctx context.Context, name string, steps []Step) (*Report, error) {
	runner := scenario.NewRunner(h.opts.Logger, h, h.opts.DefaultTimeout)

	report, err := runner.Run(ctx, name, steps)
	if err != nil {
		// Abort still drives the termination path; the subprocess never
		// outlives the harness run.
		_ = h.Close()

		return report, err
	}

	return report, nil
}

// RunSuite executes a declarative suite against the running server.
func (h *Harness) RunSuite(ctx context.Context, suite *SuiteFile) (*Report, error) {
	return h.Run(ctx, suite.Suite, suite.Build())
}

// ServerStderr returns the diagnostic stderr captured so far.
func (h *Harness) ServerStderr() string {
	return h.proc.StderrTail()
}

// Close terminates the server subprocess: graceful signal, bounded grace
// period, forced kill past that. Safe to call multiple times.
func (h *Harness) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	return h.proc.Close()
}

// RunSuiteFile owns one complete run: it starts a harness for opts, runs
// the suite at path, and always tears the subprocess down before
// returning, whatever happened.
func RunSuiteFile(ctx context.Context, opts Options, path string) (*Report, error) {
	suite, err := LoadSuite(path)
	if err != nil {
		return nil, err
	}

	h := New(opts)
	if err := h.Start(ctx); err != nil {
		return nil, err
	}

	defer func() { _ = h.Close() }()

	return h.RunSuite(ctx, suite)
}
