package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/probelabs/stdiorpc/internal/errors"
	"github.com/probelabs/stdiorpc/internal/jsonrpc"
	"github.com/probelabs/stdiorpc/internal/outcome"
	"github.com/probelabs/stdiorpc/internal/stream"
)

// Transport defines the minimal interface the correlator needs.
//
// This interface is satisfied by subprocess.Process but allows testing
// with mock transports.
type Transport interface {
	WriteLine(ctx context.Context, data []byte) error
	StdoutLines() <-chan stream.RawLine
}

// Exchange is one completed request/response pair, classified.
type Exchange struct {
	Request  *jsonrpc.Request
	Response *jsonrpc.Response // nil on timeout
	Outcome  outcome.Outcome
	Elapsed  time.Duration

	// Malformed counts non-JSON stdout lines observed while waiting. They
	// are evidence the server misbehaved, captured as an observation, not
	// a harness fault.
	Malformed int
}

// pendingExchange tracks one request awaiting its response.
type pendingExchange struct {
	request     *jsonrpc.Request
	deadline    time.Time
	expectError bool
}

// Correlator sends requests and matches responses strictly by id, never
// by arrival order. It is the sole consumer of the stdout drain queue.
type Correlator struct {
	log       *slog.Logger
	transport Transport

	mu      sync.Mutex
	pending map[jsonrpc.ID]*pendingExchange
}

// New creates a correlator over the given transport.
func New(log *slog.Logger, transport Transport) *Correlator {
	return &Correlator{
		log:       log.With("component", "correlate"),
		transport: transport,
		pending:   make(map[jsonrpc.ID]*pendingExchange, 4),
	}
}

// Send writes one request and blocks until a response with a matching id
// arrives, the timeout elapses, or the context is cancelled.
//
// Per-exchange failure modes resolve to an outcome value: a matched error
// response classifies per the expect-error flag, and a missed deadline
// returns an Exchange with Outcome Timeout and a nil Response. Only
// transport-level failures (broken pipe, stream closed, cancellation)
// return an error, and those are fatal to the scenario.
//
// Lines that fail to parse as JSON, parse but carry neither result nor
// error, or carry a non-matching id are skipped and polling continues;
// they may be diagnostic noise or responses to stale ids.
func (c *Correlator) Send(
	ctx context.Context,
	req *jsonrpc.Request,
	timeout time.Duration,
	expectError bool,
) (*Exchange, error) {
	if req.ID.IsZero() {
		return nil, fmt.Errorf("request %q has no id", req.Method)
	}

	pending := &pendingExchange{
		request:     req,
		deadline:    time.Now().Add(timeout),
		expectError: expectError,
	}

	c.mu.Lock()

	if _, inFlight := c.pending[req.ID]; inFlight {
		c.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateRequestID, req.ID)
	}

	c.pending[req.ID] = pending
	c.mu.Unlock()

	// The pending exchange is destroyed on every exit path: matched
	// response, timeout, or transport failure. Repeated timeouts leak
	// no state.
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.log.Debug("Sending request", "id", req.ID, "method", req.Method, "timeout", timeout)

	start := time.Now()

	if err := c.transport.WriteLine(ctx, data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ex := &Exchange{Request: req}

	for {
		select {
		case line, ok := <-c.transport.StdoutLines():
			if !ok {
				c.log.Warn("Stdout stream closed while awaiting response", "id", req.ID)

				return nil, errors.ErrStreamClosed
			}

			resp, perr := jsonrpc.ParseLine(line.Text)
			if perr != nil {
				ex.Malformed++
				c.log.Debug("Skipping malformed stdout line", "seq", line.Seq, "error", perr)

				continue
			}

			if resp == nil {
				// Blank line or JSON that is not a response.
				continue
			}

			if !resp.ID.Equal(req.ID) {
				// Unexpected id: logged, never matched.
				c.log.Warn("Response id does not match any pending request",
					"got", resp.ID, "want", req.ID)

				continue
			}

			ex.Response = resp
			ex.Outcome = outcome.Classify(resp, expectError)
			ex.Elapsed = time.Since(start)

			c.log.Debug("Request resolved",
				"id", req.ID, "outcome", ex.Outcome, "elapsed", ex.Elapsed)

			return ex, nil

		case <-timer.C:
			ex.Outcome = outcome.Timeout
			ex.Elapsed = time.Since(start)

			c.log.Warn("Request timed out", "id", req.ID, "method", req.Method, "timeout", timeout)

			return ex, nil

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PendingCount reports how many requests are awaiting responses. Useful
// for asserting that timeouts leave no residue.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}
