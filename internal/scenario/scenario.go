package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/probelabs/stdiorpc/internal/correlate"
	"github.com/probelabs/stdiorpc/internal/envelope"
	"github.com/probelabs/stdiorpc/internal/jsonrpc"
	"github.com/probelabs/stdiorpc/internal/outcome"
)

// Caller defines the minimal interface the driver needs: one correlated
// exchange per call. It is satisfied by the root Harness.
type Caller interface {
	Call(ctx context.Context, method string, params any, expectError bool, timeout time.Duration) (*correlate.Exchange, error)
}

// Step is one declarative entry of a scenario: it produces a request,
// possibly built from earlier results, and asserts on the reply.
type Step struct {
	// Name identifies the step in the report and in Needs references.
	// Empty names are assigned as step-N.
	Name string

	// Method is the JSON-RPC method to call.
	Method string

	// Params are the literal call params. String values may reference
	// saved variables as ${name}.
	Params any

	// ParamsFunc, when set, builds the params from the report so far and
	// takes precedence over Params.
	ParamsFunc func(r *Report) (any, error)

	// ExpectError asserts that the server rejects this call.
	ExpectError bool

	// Timeout overrides the runner's default exchange deadline.
	Timeout time.Duration

	// Needs lists steps that must have succeeded before this one runs.
	// If any did not, this step is recorded as skipped, never attempted.
	Needs []string

	// Save extracts values from the unwrapped result into named variables
	// for later steps: variable name to dotted path (e.g. "event.id").
	Save map[string]string
}

// StepResult is the immutable record of one completed (or skipped) step.
type StepResult struct {
	Name     string
	Outcome  outcome.Outcome
	Elapsed  time.Duration
	Response *jsonrpc.Response
	Detail   string
}

// Unwrap returns the step's structured result payload, unwrapping the
// tool-result content envelope when present.
func (s *StepResult) Unwrap() (map[string]any, error) {
	if s.Response == nil || s.Response.Result == nil {
		return nil, fmt.Errorf("step %q has no result", s.Name)
	}

	return envelope.Unwrap(s.Response.Result)
}

// Report accumulates the ordered step results of one scenario run.
// Entries are never mutated after their step completes.
type Report struct {
	RunID   string
	Name    string
	Started time.Time
	Elapsed time.Duration
	Steps   []StepResult
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool {
	for i := range r.Steps {
		if r.Steps[i].Outcome != outcome.Success {
			return false
		}
	}

	return len(r.Steps) > 0
}

// Step returns the result recorded under name.
func (r *Report) Step(name string) (*StepResult, bool) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], true
		}
	}

	return nil, false
}

// Runner executes scenario steps strictly sequentially: later steps
// commonly need identifiers only known after earlier ones complete, so
// correctness of dependent steps wins over throughput.
type Runner struct {
	log            *slog.Logger
	caller         Caller
	defaultTimeout time.Duration
}

// NewRunner creates a runner that drives exchanges through caller.
func NewRunner(log *slog.Logger, caller Caller, defaultTimeout time.Duration) *Runner {
	return &Runner{
		log:            log.With("component", "scenario"),
		caller:         caller,
		defaultTimeout: defaultTimeout,
	}
}

// Run executes the steps in order and returns the accumulated report.
//
// Per-exchange failures (protocol errors, timeouts, mismatches) resolve
// to step outcomes and the run continues. A transport failure is fatal:
// the partial report is returned together with the error, and every
// remaining step is recorded as skipped.
func (r *Runner) Run(ctx context.Context, name string, steps []Step) (*Report, error) {
	steps, err := normalize(steps)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:   ulid.Make().String(),
		Name:    name,
		Started: time.Now(),
	}
	defer func() { report.Elapsed = time.Since(report.Started) }()

	r.log.Info("Running scenario", "scenario", name, "run_id", report.RunID, "steps", len(steps))

	vars := make(map[string]string)
	outcomes := make(map[string]outcome.Outcome, len(steps))

	for i, step := range steps {
		if reason, blocked := r.blocked(step, outcomes); blocked {
			r.log.Info("Skipping step", "step", step.Name, "reason", reason)
			report.Steps = append(report.Steps, StepResult{
				Name:    step.Name,
				Outcome: outcome.Skipped,
				Detail:  reason,
			})
			outcomes[step.Name] = outcome.Skipped

			continue
		}

		params, perr := r.buildParams(step, report, vars)
		if perr != nil {
			// An unresolved reference means the producing step did not
			// deliver; treat it like a failed prerequisite.
			r.log.Info("Skipping step", "step", step.Name, "reason", perr.Error())
			report.Steps = append(report.Steps, StepResult{
				Name:    step.Name,
				Outcome: outcome.Skipped,
				Detail:  perr.Error(),
			})
			outcomes[step.Name] = outcome.Skipped

			continue
		}

		timeout := step.Timeout
		if timeout <= 0 {
			timeout = r.defaultTimeout
		}

		ex, cerr := r.caller.Call(ctx, step.Method, params, step.ExpectError, timeout)
		if cerr != nil {
			// Transport failure: fatal to the scenario, reported
			// immediately, remaining steps skipped.
			for _, rest := range steps[i:] {
				report.Steps = append(report.Steps, StepResult{
					Name:    rest.Name,
					Outcome: outcome.Skipped,
					Detail:  fmt.Sprintf("scenario aborted: %v", cerr),
				})
			}

			return report, fmt.Errorf("step %q: %w", step.Name, cerr)
		}

		result := StepResult{
			Name:     step.Name,
			Outcome:  ex.Outcome,
			Elapsed:  ex.Elapsed,
			Response: ex.Response,
			Detail:   outcome.Describe(ex.Outcome, ex.Response),
		}

		if ex.Malformed > 0 {
			result.Detail = strings.TrimSpace(fmt.Sprintf(
				"%s (skipped %d malformed line(s))", result.Detail, ex.Malformed))
		}

		if result.Outcome == outcome.Success && len(step.Save) > 0 {
			if serr := saveVars(&result, step.Save, vars); serr != nil {
				result.Detail = strings.TrimSpace(result.Detail + " " + serr.Error())
			}
		}

		report.Steps = append(report.Steps, result)
		outcomes[step.Name] = result.Outcome
	}

	return report, nil
}

// normalize assigns default names and validates dependency references.
func normalize(steps []Step) ([]Step, error) {
	out := make([]Step, len(steps))
	seen := make(map[string]int, len(steps))

	for i, step := range steps {
		if step.Name == "" {
			step.Name = "step-" + strconv.Itoa(i+1)
		}

		if step.Method == "" {
			return nil, fmt.Errorf("step %q: missing method", step.Name)
		}

		if _, dup := seen[step.Name]; dup {
			return nil, fmt.Errorf("duplicate step name %q", step.Name)
		}

		for _, need := range step.Needs {
			if _, ok := seen[need]; !ok {
				return nil, fmt.Errorf("step %q needs unknown earlier step %q", step.Name, need)
			}
		}

		seen[step.Name] = i
		out[i] = step
	}

	return out, nil
}

// blocked reports whether a prerequisite kept the step from running.
func (r *Runner) blocked(step Step, outcomes map[string]outcome.Outcome) (string, bool) {
	for _, need := range step.Needs {
		if o := outcomes[need]; o != outcome.Success {
			return fmt.Sprintf("prerequisite %q was %s", need, o), true
		}
	}

	return "", false
}

// buildParams resolves the step's params, either programmatically or by
// substituting saved variables into the literal value.
func (r *Runner) buildParams(step Step, report *Report, vars map[string]string) (any, error) {
	if step.ParamsFunc != nil {
		return step.ParamsFunc(report)
	}

	return substitute(step.Params, vars)
}

// substitute deep-copies v, expanding ${name} references in every string.
func substitute(v any, vars map[string]string) (any, error) {
	switch val := v.(type) {
	case string:
		return expand(val, vars)

	case map[string]any:
		out := make(map[string]any, len(val))

		for k, item := range val {
			sub, err := substitute(item, vars)
			if err != nil {
				return nil, err
			}

			out[k] = sub
		}

		return out, nil

	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			sub, err := substitute(item, vars)
			if err != nil {
				return nil, err
			}

			out[i] = sub
		}

		return out, nil

	default:
		return v, nil
	}
}

// expand replaces ${name} references in s. Unknown references are errors
// so dependent steps skip instead of sending garbage.
func expand(s string, vars map[string]string) (string, error) {
	var (
		b    strings.Builder
		rest = s
	)

	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)

			return b.String(), nil
		}

		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)

			return b.String(), nil
		}

		name := rest[start+2 : start+end]

		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("unresolved reference ${%s}", name)
		}

		b.WriteString(rest[:start])
		b.WriteString(val)
		rest = rest[start+end+1:]
	}
}

// saveVars extracts values from the step's unwrapped result into vars.
func saveVars(result *StepResult, save map[string]string, vars map[string]string) error {
	payload, err := result.Unwrap()
	if err != nil {
		return fmt.Errorf("save failed: %v", err)
	}

	for name, path := range save {
		val, err := lookupPath(payload, path)
		if err != nil {
			return fmt.Errorf("save %s failed: %v", name, err)
		}

		vars[name] = val
	}

	return nil
}

// lookupPath walks a dotted path through nested maps and lists and
// renders the leaf as a string.
func lookupPath(payload map[string]any, path string) (string, error) {
	var cur any = payload

	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return "", fmt.Errorf("path %q: no key %q", path, seg)
			}

			cur = next

		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return "", fmt.Errorf("path %q: bad index %q", path, seg)
			}

			cur = node[idx]

		default:
			return "", fmt.Errorf("path %q: cannot descend into %T at %q", path, cur, seg)
		}
	}

	switch leaf := cur.(type) {
	case string:
		return leaf, nil
	case json.Number:
		return leaf.String(), nil
	case float64:
		return strconv.FormatFloat(leaf, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(leaf), nil
	default:
		return "", fmt.Errorf("path %q: leaf is %T, not a scalar", path, cur)
	}
}
