package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/pulse-lab/project-pulse/internal/core/storage"
	"github.com/pulse-lab/project-pulse/internal/metrics"
	"github.com/pulse-lab/project-pulse/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize     = 100
	defaultChunkSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// ErrClosed is returned by TrackEvent after Shutdown has completed.
var ErrClosed = errors.New("ingestion service is shut down")

// Config controls batching and validation behavior.
type Config struct {
	// SourceName is stamped onto events whose producer did not set a source.
	SourceName string

	// BatchingEnabled buffers events in memory and flushes them on a timer
	// or size threshold. When false every event is stored synchronously and
	// storage failures surface to the TrackEvent caller.
	BatchingEnabled bool

	// BatchSize triggers an immediate flush when the pending batch reaches
	// it. Default 100.
	BatchSize int

	// ChunkSize bounds the sub-batches a flush stores concurrently.
	// Default 100.
	ChunkSize int

	// FlushInterval is the background flush period. Default 5s.
	FlushInterval time.Duration

	// ValidateEvents toggles envelope validation after defaulting.
	ValidateEvents bool

	// MaxRetries caps how many flush cycles a failed event is retried for.
	// 0 retries forever; exhausted events are logged and dropped.
	MaxRetries int
}

func (c Config) normalized() Config {
	n := c
	if n.SourceName == "" {
		n.SourceName = "pulse-ingestion"
	}
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.ChunkSize <= 0 {
		n.ChunkSize = defaultChunkSize
	}
	if n.FlushInterval <= 0 {
		n.FlushInterval = defaultFlushInterval
	}
	return n
}

// Service is the ingestion entry point producers call. It completes and
// validates events, runs them through the processing pipeline, broadcasts
// them to live subscribers, and batches them for durable storage.
//
// The pending batch and the flush-in-progress flag are the only cross-task
// mutable state; both are guarded by mu. Flushes never overlap: a flush
// triggered while one is in progress is a no-op and the events ride the next
// cycle.
type Service struct {
	cfg      Config
	store    storage.EventStore
	pipe     *pipeline.Pipeline
	recorder *metrics.Recorder

	mu       sync.Mutex
	pending  []*v1.Event
	flushing bool
	attempts map[string]int
	closed   bool

	subMu       sync.RWMutex
	subscribers map[int]func(*v1.Event)
	nextSubID   int

	done chan struct{}
	wg   sync.WaitGroup

	nowFn func() time.Time
}

// NewService creates the ingestion service. pipe and recorder may be nil.
// When batching is enabled the background flush timer starts immediately;
// call Shutdown to stop it and drain the pending batch.
func NewService(cfg Config, store storage.EventStore, pipe *pipeline.Pipeline, recorder *metrics.Recorder) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	s := &Service{
		cfg:         cfg.normalized(),
		store:       store,
		pipe:        pipe,
		recorder:    recorder,
		attempts:    make(map[string]int),
		subscribers: make(map[int]func(*v1.Event)),
		done:        make(chan struct{}),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}

	if s.cfg.BatchingEnabled {
		s.wg.Add(1)
		go s.flushLoop()
	}

	slog.Info("[Ingestion] Service initialized",
		"source", s.cfg.SourceName,
		"batching", s.cfg.BatchingEnabled,
		"batch_size", s.cfg.BatchSize,
		"flush_interval", s.cfg.FlushInterval)

	return s
}

// TrackEvent completes and validates a partially-filled event, runs the
// processing pipeline, broadcasts the event to subscribers, and either
// appends it to the pending batch or stores it synchronously.
//
// In batching mode only validation failures are returned; storage failures
// surface asynchronously via logs and requeue. In synchronous mode storage
// failures propagate unchanged.
func (s *Service) TrackEvent(ctx context.Context, event *v1.Event) (*v1.Event, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	event.Complete(s.cfg.SourceName)
	event.IngestedAt = s.nowFn()

	if s.cfg.ValidateEvents {
		if err := event.Validate(); err != nil {
			return nil, err
		}
	}

	skip := false
	if s.pipe != nil {
		pc := s.pipe.Process(ctx, event)
		event = pc.Event
		if pc.Err != nil {
			slog.Warn("[Ingestion] Pipeline error for event",
				"event_id", event.ID, "error", pc.Err)
		}
		if !pc.OK() {
			skip = true
			reason := "filtered"
			if pc.Aborted {
				reason = "aborted"
			}
			s.recorder.IncDropped(reason)
		}
	}

	// Broadcast is decoupled from storage success or failure.
	s.publish(event)

	if skip {
		return event, nil
	}

	s.recorder.IncIngested(string(event.Type))

	if !s.cfg.BatchingEnabled {
		if err := s.store.StoreEvent(ctx, event); err != nil {
			return nil, err
		}
		return event, nil
	}

	s.mu.Lock()
	s.pending = append(s.pending, event)
	size := len(s.pending)
	s.mu.Unlock()

	if size >= s.cfg.BatchSize {
		s.flush(ctx)
	}

	return event, nil
}

// QueryEvents passes the query straight to the storage provider. Queries
// read already-stored data; the pipeline is not involved.
func (s *Service) QueryEvents(ctx context.Context, query *v1.Query) (*v1.QueryResult, error) {
	return s.store.QueryEvents(ctx, query)
}

// GetMetrics passes the aggregation request straight to the storage provider.
func (s *Service) GetMetrics(
	ctx context.Context,
	metric string,
	dimensions []string,
	filters map[string]interface{},
	timeframe v1.Timeframe,
) (*v1.AggregatedMetrics, error) {
	return s.store.GetMetrics(ctx, metric, dimensions, filters, timeframe)
}

// SubscribeToEvents registers a live listener and returns its unsubscribe
// function. Delivery is best-effort and at-most-once per event; a panicking
// subscriber is isolated from ingestion and from other subscribers.
func (s *Service) SubscribeToEvents(fn func(*v1.Event)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Service) publish(event *v1.Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, fn := range s.subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("[Ingestion] Subscriber panicked",
						"subscriber_id", id, "panic", r)
				}
			}()
			fn(event)
		}()
	}
}

func (s *Service) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.done:
			return
		}
	}
}

// flush swaps out the pending batch and stores it in concurrent chunks.
// The flushing flag guarantees mutual exclusion: a flush arriving while one
// is in progress returns immediately and the events wait for the next cycle.
// Failed chunks are prepended back onto the live pending batch so nothing is
// silently dropped (at-least-once; storage tolerates duplicate IDs).
func (s *Service) flush(ctx context.Context) {
	s.mu.Lock()
	if s.flushing || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	failed := s.storeChunks(ctx, batch)
	s.recorder.IncFlush()

	if len(failed) == 0 {
		slog.Debug("[Ingestion] Flushed batch", "count", len(batch))
		return
	}

	s.recorder.IncFlushFailure()
	requeue := s.applyRetryBudget(failed)
	if len(requeue) == 0 {
		return
	}

	s.mu.Lock()
	s.pending = append(requeue, s.pending...)
	s.mu.Unlock()
	s.recorder.AddRequeued(len(requeue))

	slog.Warn("[Ingestion] Requeued events from failed chunks",
		"requeued", len(requeue), "batch_size", len(batch))
}

// storeChunks divides the batch into fixed-size chunks and stores them
// concurrently. It returns the events of every failed chunk in original
// submission order.
func (s *Service) storeChunks(ctx context.Context, batch []*v1.Event) []*v1.Event {
	var chunks [][]*v1.Event
	for start := 0; start < len(batch); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		chunks = append(chunks, batch[start:end])
	}

	chunkErrs := make([]error, len(chunks))
	g := new(errgroup.Group)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			for _, evt := range chunk {
				if err := s.store.StoreEvent(ctx, evt); err != nil {
					chunkErrs[i] = err
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("[Ingestion] Batch flush had failing chunks",
			"batch_size", len(batch), "error", err)
	}

	var failed []*v1.Event
	for i, chunk := range chunks {
		if chunkErrs[i] != nil {
			failed = append(failed, chunk...)
		}
	}
	return failed
}

// applyRetryBudget splits failed events into those still within MaxRetries
// and those exhausted. Exhausted events are reported as lost (dead-lettered)
// rather than retried forever. MaxRetries 0 keeps every failed event.
func (s *Service) applyRetryBudget(failed []*v1.Event) []*v1.Event {
	if s.cfg.MaxRetries <= 0 {
		return failed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	requeue := failed[:0]
	dropped := 0
	for _, evt := range failed {
		s.attempts[evt.ID]++
		if s.attempts[evt.ID] > s.cfg.MaxRetries {
			delete(s.attempts, evt.ID)
			dropped++
			slog.Error("[Ingestion] Event exhausted retry budget, dropping",
				"event_id", evt.ID, "max_retries", s.cfg.MaxRetries)
			continue
		}
		requeue = append(requeue, evt)
	}

	if dropped > 0 {
		s.recorder.AddDeadLettered(dropped)
		s.recorder.IncDropped("dead_letter")
	}
	return requeue
}

// Shutdown stops the flush timer, performs one final flush of the pending
// batch, and releases subscriber registrations. Events that still cannot be
// stored are reported as lost before it returns.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cfg.BatchingEnabled {
		close(s.done)
		s.wg.Wait()
		s.flush(ctx)
	}

	s.mu.Lock()
	lost := len(s.pending)
	s.pending = nil
	s.mu.Unlock()

	if lost > 0 {
		slog.Error("[Ingestion] Events lost at shutdown: final flush failed",
			"count", lost)
	}

	s.subMu.Lock()
	s.subscribers = make(map[int]func(*v1.Event))
	s.subMu.Unlock()

	slog.Info("[Ingestion] Service shut down", "events_lost", lost)
	return nil
}
