// Package shutdown stops the service's components in phases. Lower phases
// run first; handlers sharing a phase run concurrently. A failing handler
// does not stop later phases, so the bus still closes when the HTTP
// server refused to drain.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ArnBdev/OneAgent-sub002/logging"
)

// Phases used by the oneagent service.
const (
	// PhaseIngress stops accepting requests: HTTP server, event stream.
	PhaseIngress = 10

	// PhaseMembership announces departure and stops liveness tracking.
	PhaseMembership = 20

	// PhaseStorage closes the registry and the memory store.
	PhaseStorage = 30

	// PhaseTransport closes the bus connection and flushes traces.
	PhaseTransport = 40
)

// Common errors.
var (
	ErrTimeout       = errors.New("shutdown timeout exceeded")
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Func is a shutdown step. ctx carries the overall deadline.
type Func func(ctx context.Context) error

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	Duration time.Duration
	Steps    []StepResult
	Err      error
}

// Failed returns the names of steps that returned an error.
func (r *Result) Failed() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s.Name)
		}
	}
	return out
}

type step struct {
	name  string
	phase int
	fn    Func
	seq   int
}

// Coordinator runs registered steps once.
type Coordinator struct {
	timeout time.Duration
	logger  *logging.Logger

	mu     sync.Mutex
	steps  []step
	once   sync.Once
	done   chan struct{}
	result *Result
}

// NewCoordinator creates a coordinator whose Wait allows timeout for the
// whole sequence. Zero means 30 seconds.
func NewCoordinator(timeout time.Duration, logger *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		timeout: timeout,
		logger:  logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
	}
}

// Register adds a step. Steps in the same phase keep no relative order.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, step{name: name, phase: phase, fn: fn, seq: len(c.steps)})
}

// Wait blocks until ctx is done (typically a signal context), then shuts
// down within the coordinator's timeout.
func (c *Coordinator) Wait(ctx context.Context) *Result {
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Shutdown(sctx)
}

// Shutdown runs every phase. Later calls wait for the first to finish and
// return the same result.
func (c *Coordinator) Shutdown(ctx context.Context) *Result {
	c.once.Do(func() {
		c.result = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.result
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) run(ctx context.Context) *Result {
	start := time.Now()

	c.mu.Lock()
	steps := append([]step(nil), c.steps...)
	c.mu.Unlock()
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].phase != steps[j].phase {
			return steps[i].phase < steps[j].phase
		}
		return steps[i].seq < steps[j].seq
	})

	res := &Result{Steps: make([]StepResult, 0, len(steps))}
	for len(steps) > 0 {
		n := 1
		for n < len(steps) && steps[n].phase == steps[0].phase {
			n++
		}
		phase := steps[:n]
		steps = steps[n:]

		if ctx.Err() != nil {
			for _, s := range phase {
				res.Steps = append(res.Steps, StepResult{Name: s.name, Phase: s.phase, Err: ErrTimeout})
			}
			res.Err = ErrTimeout
			continue
		}
		for _, sr := range c.runPhase(ctx, phase) {
			res.Steps = append(res.Steps, sr)
			if sr.Err != nil && res.Err == nil {
				res.Err = ErrHandlerFailed
			}
		}
	}

	res.Duration = time.Since(start)
	fields := map[string]interface{}{"duration": res.Duration.String(), "steps": len(res.Steps)}
	if res.Err != nil {
		fields["failed"] = fmt.Sprint(res.Failed())
		c.logger.Warn("shutdown_incomplete", fields)
	} else {
		c.logger.Info("shutdown_complete", fields)
	}
	return res
}

func (c *Coordinator) runPhase(ctx context.Context, phase []step) []StepResult {
	results := make([]StepResult, len(phase))
	var wg sync.WaitGroup
	for i, s := range phase {
		wg.Add(1)
		go func(i int, s step) {
			defer wg.Done()
			start := time.Now()
			err := safeCall(ctx, s.fn)
			results[i] = StepResult{Name: s.name, Phase: s.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{"step": s.name, "phase": s.phase, "duration": results[i].Duration.String()}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Error("shutdown_step_failed", fields)
			} else {
				c.logger.Debug("shutdown_step_done", fields)
			}
		}(i, s)
	}
	wg.Wait()
	return results
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn(ctx)
}
