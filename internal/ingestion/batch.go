package ingestion

import (
	"context"
	"log/slog"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/pulse-lab/project-pulse/internal/pipeline"
)

// ProcessBatch runs a queued slice of events through the same path as
// TrackEvent (completion, validation, pipeline, broadcast, batching) and
// returns the per-event contexts in submission order. It satisfies
// queue.BatchProcessor; the queue path discards the contexts, so callers
// needing failure visibility should invoke this directly.
func (s *Service) ProcessBatch(ctx context.Context, events []*v1.Event) []*pipeline.Context {
	contexts := make([]*pipeline.Context, len(events))

	valid := make([]*v1.Event, 0, len(events))
	validIdx := make([]int, 0, len(events))

	for i, event := range events {
		event.Complete(s.cfg.SourceName)
		event.IngestedAt = s.nowFn()

		if s.cfg.ValidateEvents {
			if err := event.Validate(); err != nil {
				pc := pipeline.NewContext(event)
				pc.Err = err
				pc.SkipStorage = true
				contexts[i] = pc
				continue
			}
		}

		valid = append(valid, event)
		validIdx = append(validIdx, i)
	}

	var processed []*pipeline.Context
	if s.pipe != nil {
		processed = s.pipe.ProcessBatch(ctx, valid)
	} else {
		processed = make([]*pipeline.Context, len(valid))
		for i, event := range valid {
			processed[i] = pipeline.NewContext(event)
		}
	}

	stored := 0
	for i, pc := range processed {
		contexts[validIdx[i]] = pc

		s.publish(pc.Event)

		if !pc.OK() {
			reason := "filtered"
			if pc.Aborted {
				reason = "aborted"
			}
			s.recorder.IncDropped(reason)
			continue
		}

		s.recorder.IncIngested(string(pc.Event.Type))

		if !s.cfg.BatchingEnabled {
			if err := s.store.StoreEvent(ctx, pc.Event); err != nil {
				pc.Err = err
				slog.Error("[Ingestion] Failed to store queued event",
					"event_id", pc.Event.ID, "error", err)
			}
			continue
		}

		s.mu.Lock()
		s.pending = append(s.pending, pc.Event)
		s.mu.Unlock()
		stored++
	}

	if stored > 0 {
		s.mu.Lock()
		size := len(s.pending)
		s.mu.Unlock()
		if size >= s.cfg.BatchSize {
			s.flush(ctx)
		}
	}

	return contexts
}
