package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/pulse-lab/project-pulse/internal/pipeline"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory storage.EventStore for exercising the batching
// paths without a database.
type fakeStore struct {
	mu      sync.Mutex
	stored  []*v1.Event
	failing bool

	queryResult   *v1.QueryResult
	queryErr      error
	metricsResult *v1.AggregatedMetrics
	metricsErr    error
}

func (f *fakeStore) StoreEvent(ctx context.Context, event *v1.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("storage unavailable")
	}
	f.stored = append(f.stored, event)
	return nil
}

func (f *fakeStore) QueryEvents(ctx context.Context, query *v1.Query) (*v1.QueryResult, error) {
	return f.queryResult, f.queryErr
}

func (f *fakeStore) GetMetrics(ctx context.Context, metric string, dimensions []string, filters map[string]interface{}, timeframe v1.Timeframe) (*v1.AggregatedMetrics, error) {
	return f.metricsResult, f.metricsErr
}

func (f *fakeStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeStore) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func (s *Service) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func TestTrackEvent_Synchronous(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(Config{ValidateEvents: true}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	evt, err := svc.TrackEvent(context.Background(), &v1.Event{
		Type: v1.TypeClick,
		Name: "signup_clicked",
	})
	require.NoError(t, err)
	require.NotEmpty(t, evt.ID)
	require.Equal(t, "pulse-ingestion", evt.Source)
	require.False(t, evt.IngestedAt.IsZero())
	require.Equal(t, 1, store.storedCount())
}

func TestTrackEvent_SynchronousStorageErrorPropagates(t *testing.T) {
	store := &fakeStore{failing: true}
	svc := NewService(Config{}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	_, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "n"})
	require.Error(t, err)
}

func TestTrackEvent_BatchFlushOnSize(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(Config{
		BatchingEnabled: true,
		BatchSize:       100,
		FlushInterval:   time.Hour,
	}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	for i := 0; i < 250; i++ {
		_, err := svc.TrackEvent(context.Background(), &v1.Event{
			ID:   fmt.Sprintf("evt-%d", i),
			Type: v1.TypeClick,
			Name: "n",
		})
		require.NoError(t, err)
	}

	// Two size-triggered flushes of 100 each; the remaining 50 wait for
	// the timer or shutdown.
	require.Equal(t, 200, store.storedCount())
	require.Equal(t, 50, svc.pendingCount())
}

func TestFlush_RequeuesFailedBatch(t *testing.T) {
	store := &fakeStore{failing: true}
	svc := NewService(Config{
		BatchingEnabled: true,
		BatchSize:       10,
		FlushInterval:   time.Hour,
	}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	for i := 0; i < 3; i++ {
		_, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "n"})
		require.NoError(t, err)
	}

	svc.flush(context.Background())
	require.Equal(t, 0, store.storedCount())
	require.Equal(t, 3, svc.pendingCount(), "failed events ride the next cycle")

	store.setFailing(false)
	svc.flush(context.Background())
	require.Equal(t, 3, store.storedCount())
	require.Equal(t, 0, svc.pendingCount())
}

func TestFlush_DeadLettersAfterMaxRetries(t *testing.T) {
	store := &fakeStore{failing: true}
	svc := NewService(Config{
		BatchingEnabled: true,
		BatchSize:       10,
		FlushInterval:   time.Hour,
		MaxRetries:      2,
	}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	_, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "n"})
	require.NoError(t, err)

	svc.flush(context.Background())
	require.Equal(t, 1, svc.pendingCount())
	svc.flush(context.Background())
	require.Equal(t, 1, svc.pendingCount())

	// Third failure exceeds the budget of 2 and drops the event.
	svc.flush(context.Background())
	require.Equal(t, 0, svc.pendingCount())
	require.Equal(t, 0, store.storedCount())
}

func TestTrackEvent_PipelineFilterSkipsStorage(t *testing.T) {
	store := &fakeStore{}
	pipe := pipeline.New(pipeline.Options{}).Use(
		pipeline.FilterStage("clicks_only", func(e *v1.Event) bool {
			return e.Type == v1.TypeClick
		}),
	)
	svc := NewService(Config{}, store, pipe, nil)
	defer svc.Shutdown(context.Background())

	evt, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypePageView, Name: "home"})
	require.NoError(t, err)
	require.NotNil(t, evt, "filtered events are still returned to the caller")
	require.Equal(t, 0, store.storedCount())
}

func TestSubscribeToEvents(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(Config{}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	var mu sync.Mutex
	var seen []string
	unsubscribe := svc.SubscribeToEvents(func(e *v1.Event) {
		mu.Lock()
		seen = append(seen, e.Name)
		mu.Unlock()
	})

	// A panicking subscriber must not take down ingestion or its peers.
	svc.SubscribeToEvents(func(e *v1.Event) {
		panic("subscriber bug")
	})

	_, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "first"})
	require.NoError(t, err)

	unsubscribe()

	_, err = svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "second"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first"}, seen)
}

func TestShutdown_DrainsPendingBatch(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(Config{
		BatchingEnabled: true,
		BatchSize:       100,
		FlushInterval:   time.Hour,
	}, store, nil, nil)

	for i := 0; i < 7; i++ {
		_, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "n"})
		require.NoError(t, err)
	}
	require.Equal(t, 0, store.storedCount())

	require.NoError(t, svc.Shutdown(context.Background()))
	require.Equal(t, 7, store.storedCount())

	_, err := svc.TrackEvent(context.Background(), &v1.Event{Type: v1.TypeClick, Name: "n"})
	require.ErrorIs(t, err, ErrClosed)

	// Shutdown is idempotent.
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestQueryAndMetricsPassThrough(t *testing.T) {
	store := &fakeStore{
		queryResult:   &v1.QueryResult{TotalCount: 42},
		metricsResult: &v1.AggregatedMetrics{Metric: "count", Total: 42},
	}
	svc := NewService(Config{}, store, nil, nil)
	defer svc.Shutdown(context.Background())

	res, err := svc.QueryEvents(context.Background(), &v1.Query{})
	require.NoError(t, err)
	require.Equal(t, 42, res.TotalCount)

	agg, err := svc.GetMetrics(context.Background(), "count", nil, nil, v1.Timeframe{})
	require.NoError(t, err)
	require.Equal(t, float64(42), agg.Total)
}
