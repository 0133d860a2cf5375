package queue

import (
	"context"
	"log/slog"
	"sync"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/pulse-lab/project-pulse/internal/pipeline"
)

const (
	defaultConcurrency = 4
	defaultBatchSize   = 50
)

// BatchProcessor consumes one drained slice of events and returns the
// per-event processing contexts in submission order. Both *pipeline.Pipeline
// and the ingestion service satisfy it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, events []*v1.Event) []*pipeline.Context
}

// Config bounds the controller's throughput.
type Config struct {
	// Concurrency is the maximum number of batch tasks in flight. Default 4.
	Concurrency int

	// BatchSize is the maximum events popped per task. Default 50.
	BatchSize int
}

func (c Config) normalized() Config {
	n := c
	if n.Concurrency <= 0 {
		n.Concurrency = defaultConcurrency
	}
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	return n
}

// Controller maintains a single pending queue and drains it into concurrent
// batch-processing tasks up to the configured concurrency limit.
//
// It is an explicit instance owned by whoever constructs it; multiple
// independently-configured controllers can coexist. The pending queue and the
// in-flight counter are mutated only under mu. Batch failures are logged and
// swallowed at this layer; callers needing failure visibility should call
// the processor's ProcessBatch directly and inspect the returned contexts.
type Controller struct {
	cfg  Config
	proc BatchProcessor

	mu       sync.Mutex
	idle     *sync.Cond
	pending  []*v1.Event
	inFlight int
	draining bool
}

// NewController creates a queue controller draining into proc.
func NewController(cfg Config, proc BatchProcessor) *Controller {
	if proc == nil {
		panic("queue: processor must not be nil")
	}
	c := &Controller{
		cfg:  cfg.normalized(),
		proc: proc,
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// QueueEvent enqueues one event and kicks the drain loop.
func (c *Controller) QueueEvent(event *v1.Event) {
	c.QueueEvents([]*v1.Event{event})
}

// QueueEvents enqueues a slice of events and kicks the drain loop.
func (c *Controller) QueueEvents(events []*v1.Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, events...)
	c.mu.Unlock()

	c.drain()
}

// drain launches batch tasks while the queue is non-empty and a concurrency
// slot is free. The draining flag keeps a single pass scheduling work at a
// time even though completions re-trigger it from multiple goroutines.
func (c *Controller) drain() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true

	for len(c.pending) > 0 && c.inFlight < c.cfg.Concurrency {
		n := c.cfg.BatchSize
		if n > len(c.pending) {
			n = len(c.pending)
		}
		batch := c.pending[:n:n]
		c.pending = c.pending[n:]
		c.inFlight++

		go c.runBatch(batch)
	}

	c.draining = false
	c.mu.Unlock()
}

// runBatch processes one popped slice, frees its concurrency slot, and
// immediately re-drains so the slot is reused.
func (c *Controller) runBatch(batch []*v1.Event) {
	contexts := c.proc.ProcessBatch(context.Background(), batch)

	failures := 0
	for _, pc := range contexts {
		if pc != nil && pc.Err != nil {
			failures++
		}
	}
	if failures > 0 {
		slog.Warn("[Queue] Batch completed with failures",
			"batch_size", len(batch), "failures", failures)
	}

	c.mu.Lock()
	c.inFlight--
	if c.inFlight == 0 && len(c.pending) == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()

	c.drain()
}

// Pending returns the number of events waiting in the queue.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Wait blocks until the queue is empty and no batch task is in flight.
// Used at shutdown and in tests.
func (c *Controller) Wait() {
	c.mu.Lock()
	for len(c.pending) > 0 || c.inFlight > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}
