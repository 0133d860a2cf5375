package storage

import (
	"context"
	"errors"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
)

// ErrUnsupportedMetric is returned when an aggregation request names a metric
// outside the closed supported set. It is surfaced before any query executes.
var ErrUnsupportedMetric = errors.New("unsupported metric")

// ErrInvalidField is returned when a caller-supplied sort field, dimension,
// or filter key is neither a core field nor a well-formed dotted path into
// the semi-structured payload.
var ErrInvalidField = errors.New("invalid field reference")

// EventStore is the durable storage capability consumed by the core.
//
// StoreEvent must persist the event and its payload atomically, and must
// treat a duplicate ID as an idempotent no-op: batched writes retry failed
// chunks, so the same event may arrive more than once.
type EventStore interface {
	StoreEvent(ctx context.Context, event *v1.Event) error

	// QueryEvents answers a filtered, sorted, paginated read. TotalCount in
	// the result reflects the full filtered set, independent of pagination.
	QueryEvents(ctx context.Context, query *v1.Query) (*v1.QueryResult, error)

	// GetMetrics answers a grouped aggregation. Supported metrics: "count",
	// "unique_<field>" over a core column, and "avg_properties.<x>" /
	// "sum_properties.<x>" over a numeric payload value. Dimension resolution
	// is order-preserving and 1:1 with the caller's dimension list.
	GetMetrics(ctx context.Context, metric string, dimensions []string, filters map[string]interface{}, timeframe v1.Timeframe) (*v1.AggregatedMetrics, error)
}
