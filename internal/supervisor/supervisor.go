// Package supervisor runs pipeline steps as child processes with a
// timeout and a two-stage termination: SIGTERM, then SIGKILL after a grace
// period.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pendergraft/chainscout/internal/observability/metrics"
)

// State is the lifecycle state of a supervised step.
type State int

// Step states. Pending and Running are transient; the rest are terminal.
const (
	StatePending State = iota
	StateRunning
	StateExited
	StateTimedOut
	StateFailedToStart
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateTimedOut:
		return "timed-out"
	case StateFailedToStart:
		return "failed-to-start"
	case StateInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateExited
}

// DefaultGrace is the time between SIGTERM and SIGKILL.
const DefaultGrace = 2 * time.Second

// Step is one command in a pipeline.
type Step struct {
	Name    string
	Command []string
	// Timeout of zero means no limit.
	Timeout  time.Duration
	Optional bool
	Dir      string
	Env      []string
}

// Result describes how a step ended.
type Result struct {
	Name     string
	Optional bool
	State    State
	// ExitCode is meaningful only when State is StateExited.
	ExitCode int
	Duration time.Duration
	Output   string
	Err      error
}

// OK reports whether the step exited with status zero.
func (r Result) OK() bool {
	return r.State == StateExited && r.ExitCode == 0
}

// Status is a short human-readable outcome.
func (r Result) Status() string {
	if r.State == StateExited {
		return fmt.Sprintf("exited(%d)", r.ExitCode)
	}
	return r.State.String()
}

// Supervisor runs steps one at a time.
type Supervisor struct {
	grace  time.Duration
	logger *slog.Logger
	live   io.Writer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGrace sets the delay between SIGTERM and SIGKILL.
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		s.grace = d
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithLiveOutput streams child output to w, each line prefixed with the
// step name.
func WithLiveOutput(w io.Writer) Option {
	return func(s *Supervisor) {
		s.live = w
	}
}

// New creates a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		grace:  DefaultGrace,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) transition(step string, from, to State) {
	s.logger.Debug("step state", "step", step, "from", from.String(), "to", to.String())
	metrics.PipelineStep(step, to.String())
}

// Run executes step and blocks until it reaches a terminal state. The child
// is terminated when the step timeout expires or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, step Step) Result {
	res := Result{Name: step.Name, Optional: step.Optional, State: StatePending, ExitCode: -1}

	if len(step.Command) == 0 {
		res.State = StateFailedToStart
		res.Err = errors.New("empty command")
		s.transition(step.Name, StatePending, res.State)
		return res
	}

	stepCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	out := &capture{prefix: "[" + step.Name + "] ", live: s.live}
	cmd := exec.CommandContext(stepCtx, step.Command[0], step.Command[1:]...)
	cmd.Dir = step.Dir
	if len(step.Env) > 0 {
		cmd.Env = append(cmd.Environ(), step.Env...)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		res.State = StateFailedToStart
		res.Err = err
		res.Duration = time.Since(start)
		s.transition(step.Name, StatePending, res.State)
		return res
	}
	s.transition(step.Name, StatePending, StateRunning)

	waitErr := cmd.Wait()
	out.flush()
	res.Duration = time.Since(start)
	res.Output = out.String()

	// A nil wait error means the child exited 0 on its own, even if ctx
	// was cancelled in the meantime.
	switch {
	case waitErr != nil && ctx.Err() != nil:
		res.State = StateInterrupted
		res.Err = ctx.Err()
	case waitErr != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		res.State = StateTimedOut
		res.Err = fmt.Errorf("timed out after %s", step.Timeout)
	default:
		res.State = StateExited
		res.ExitCode = cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			res.Err = waitErr
		}
	}
	s.transition(step.Name, StateRunning, res.State)
	return res
}

// capture collects combined output and optionally mirrors complete lines.
type capture struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	pending []byte
	prefix  string
	live    io.Writer
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)
	if c.live == nil {
		return len(p), nil
	}
	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			break
		}
		fmt.Fprintf(c.live, "%s%s\n", c.prefix, c.pending[:i])
		c.pending = c.pending[i+1:]
	}
	return len(p), nil
}

func (c *capture) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil && len(c.pending) > 0 {
		fmt.Fprintf(c.live, "%s%s\n", c.prefix, c.pending)
		c.pending = nil
	}
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
