package metrics

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder exposes Prometheus counters for the ingestion path.
// All methods are nil-safe so components can run uninstrumented in tests.
type Recorder struct {
	ingested     *prom.CounterVec
	dropped      *prom.CounterVec
	flushes      prom.Counter
	flushFailed  prom.Counter
	requeued     prom.Counter
	deadLettered prom.Counter
}

// NewRecorder constructs and registers the ingestion metrics on reg.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		ingested: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pulse",
			Name:      "events_ingested_total",
			Help:      "Events accepted by the ingestion service, by type",
		}, []string{"type"}),
		dropped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "pulse",
			Name:      "events_dropped_total",
			Help:      "Events not persisted, by reason (filtered, aborted, dead_letter)",
		}, []string{"reason"}),
		flushes: prom.NewCounter(prom.CounterOpts{
			Namespace: "pulse",
			Name:      "batch_flushes_total",
			Help:      "Completed batch flush passes",
		}),
		flushFailed: prom.NewCounter(prom.CounterOpts{
			Namespace: "pulse",
			Name:      "batch_flush_failures_total",
			Help:      "Flush passes with at least one failed chunk",
		}),
		requeued: prom.NewCounter(prom.CounterOpts{
			Namespace: "pulse",
			Name:      "events_requeued_total",
			Help:      "Events returned to the pending batch after a failed chunk store",
		}),
		deadLettered: prom.NewCounter(prom.CounterOpts{
			Namespace: "pulse",
			Name:      "events_dead_lettered_total",
			Help:      "Events dropped after exhausting the configured retry budget",
		}),
	}
	reg.MustRegister(r.ingested, r.dropped, r.flushes, r.flushFailed, r.requeued, r.deadLettered)
	return r
}

func (r *Recorder) IncIngested(eventType string) {
	if r == nil {
		return
	}
	r.ingested.WithLabelValues(eventType).Inc()
}

func (r *Recorder) IncDropped(reason string) {
	if r == nil {
		return
	}
	r.dropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) IncFlush() {
	if r == nil {
		return
	}
	r.flushes.Inc()
}

func (r *Recorder) IncFlushFailure() {
	if r == nil {
		return
	}
	r.flushFailed.Inc()
}

func (r *Recorder) AddRequeued(n int) {
	if r == nil {
		return
	}
	r.requeued.Add(float64(n))
}

func (r *Recorder) AddDeadLettered(n int) {
	if r == nil {
		return
	}
	r.deadLettered.Add(float64(n))
}
