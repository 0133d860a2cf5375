package metrics

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	r.IncIngested("click")
	r.IncIngested("click")
	r.IncDropped("filtered")
	r.IncFlush()
	r.AddRequeued(5)
	r.AddDeadLettered(2)

	require.Equal(t, float64(2), testutil.ToFloat64(r.ingested.WithLabelValues("click")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.dropped.WithLabelValues("filtered")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.flushes))
	require.Equal(t, float64(0), testutil.ToFloat64(r.flushFailed))
	require.Equal(t, float64(5), testutil.ToFloat64(r.requeued))
	require.Equal(t, float64(2), testutil.ToFloat64(r.deadLettered))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.IncIngested("click")
	r.IncDropped("filtered")
	r.IncFlush()
	r.IncFlushFailure()
	r.AddRequeued(1)
	r.AddDeadLettered(1)
}
