package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
)

const defaultSubBatchSize = 50

// Next continues the pipeline with the remaining stages. A stage that does
// not invoke it short-circuits everything registered after it.
type Next func(ctx context.Context) error

// Handler is one unit of event processing. It receives the mutable processing
// context and the continuation for the rest of the chain.
type Handler func(ctx context.Context, pc *Context, next Next) error

// Stage pairs a handler with a name used in logs and captured errors.
type Stage struct {
	Name    string
	Handler Handler
}

// StageError wraps an error returned by a middleware stage.
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %q (index %d) failed: %v", e.Stage, e.Index, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options controls pipeline behavior.
type Options struct {
	// ContinueOnError resumes processing at the stage after a failing one
	// instead of aborting the run. The error is still captured in the context.
	ContinueOnError bool

	// SubBatchSize bounds how many events ProcessBatch runs concurrently.
	SubBatchSize int
}

// Pipeline runs an ordered chain of middleware stages over events.
// Stages execute strictly in registration order; there is no parallel stage
// execution within one event's run.
type Pipeline struct {
	stages          []Stage
	continueOnError bool
	subBatchSize    int
}

// New creates an empty pipeline with the given options.
func New(opts Options) *Pipeline {
	size := opts.SubBatchSize
	if size <= 0 {
		size = defaultSubBatchSize
	}
	return &Pipeline{
		continueOnError: opts.ContinueOnError,
		subBatchSize:    size,
	}
}

// Use appends stages to the chain. Registration order is execution order.
func (p *Pipeline) Use(stages ...Stage) *Pipeline {
	p.stages = append(p.stages, stages...)
	return p
}

// Len returns the number of registered stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Process runs one event through the full chain and returns its context.
// Stage errors never propagate to the caller: they are captured in the
// context and either abort the run or are skipped, per ContinueOnError.
func (p *Pipeline) Process(ctx context.Context, event *v1.Event) *Context {
	pc := NewContext(event)
	p.exec(ctx, pc, 0)
	return pc
}

// exec dispatches the stage at index i. The continuation recurses into i+1;
// a stage that never calls it ends the run.
func (p *Pipeline) exec(ctx context.Context, pc *Context, i int) {
	if i >= len(p.stages) || pc.Aborted {
		return
	}

	stage := p.stages[i]
	nextCalled := false
	next := func(c context.Context) error {
		nextCalled = true
		p.exec(c, pc, i+1)
		return nil
	}

	err := stage.Handler(ctx, pc, next)
	if err == nil {
		return
	}

	serr := &StageError{Stage: stage.Name, Index: i, Err: err}
	if pc.Err == nil {
		pc.Err = serr
	}

	if !p.continueOnError {
		slog.Warn("[Pipeline] Stage failed, aborting run",
			"stage", stage.Name, "index", i, "error", err)
		pc.Aborted = true
		return
	}

	slog.Warn("[Pipeline] Stage failed, continuing at next stage",
		"stage", stage.Name, "index", i, "error", err)
	if !nextCalled {
		p.exec(ctx, pc, i+1)
	}
}

// ProcessBatch partitions events into sub-batches and runs Process
// concurrently within each sub-batch. Contexts come back in the original
// event order regardless of completion order; no ordering guarantee is made
// between the events' side effects.
func (p *Pipeline) ProcessBatch(ctx context.Context, events []*v1.Event) []*Context {
	contexts := make([]*Context, len(events))

	for start := 0; start < len(events); start += p.subBatchSize {
		end := start + p.subBatchSize
		if end > len(events) {
			end = len(events)
		}

		var wg sync.WaitGroup
		wg.Add(end - start)
		for i := start; i < end; i++ {
			go func(idx int) {
				defer wg.Done()
				contexts[idx] = p.Process(ctx, events[idx])
			}(i)
		}
		wg.Wait()
	}

	return contexts
}
