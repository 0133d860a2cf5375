package postgres

import (
	"testing"
	"time"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/pulse-lab/project-pulse/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func TestBuildMetricsQuery_CountByType(t *testing.T) {
	plan, err := buildMetricsQuery("count", []string{"type"}, nil, v1.Timeframe{})
	require.NoError(t, err)

	require.Contains(t, plan.groupedSQL, "SELECT e.type AS dim_0, COUNT(*) AS value")
	require.Contains(t, plan.groupedSQL, "GROUP BY 1")
	require.Contains(t, plan.groupedSQL, "ORDER BY value DESC")
	require.Empty(t, plan.groupedArgs)

	require.Contains(t, plan.totalSQL, "SELECT COUNT(*) AS value")
	require.NotContains(t, plan.totalSQL, "GROUP BY")
	require.Empty(t, plan.totalArgs)
}

func TestBuildMetricsQuery_MultipleDimensions(t *testing.T) {
	plan, err := buildMetricsQuery("count",
		[]string{"type", "context.device"}, nil, v1.Timeframe{})
	require.NoError(t, err)

	require.Contains(t, plan.groupedSQL, "e.type AS dim_0")
	require.Contains(t, plan.groupedSQL, "c.payload #>> $1::text[] AS dim_1")
	require.Contains(t, plan.groupedSQL, "GROUP BY 1, 2")
}

func TestBuildMetricsQuery_UniqueCoreField(t *testing.T) {
	plan, err := buildMetricsQuery("unique_user_id", nil, nil, v1.Timeframe{})
	require.NoError(t, err)
	require.Contains(t, plan.groupedSQL, "COUNT(DISTINCT e.user_id) AS value")
}

func TestBuildMetricsQuery_UniqueRequiresCoreField(t *testing.T) {
	_, err := buildMetricsQuery("unique_properties.plan", nil, nil, v1.Timeframe{})
	require.ErrorIs(t, err, storage.ErrUnsupportedMetric)
}

func TestBuildMetricsQuery_NumericAggregates(t *testing.T) {
	plan, err := buildMetricsQuery("avg_properties.amount", nil, nil, v1.Timeframe{})
	require.NoError(t, err)
	require.Contains(t, plan.groupedSQL, "AVG((p.payload #>> $1::text[])::numeric) AS value")

	plan, err = buildMetricsQuery("sum_properties.amount", nil, nil, v1.Timeframe{})
	require.NoError(t, err)
	require.Contains(t, plan.groupedSQL, "SUM((p.payload #>> $1::text[])::numeric) AS value")
}

func TestBuildMetricsQuery_UnsupportedMetric(t *testing.T) {
	for _, metric := range []string{"median", "p99_properties.latency", "", "count_extra"} {
		_, err := buildMetricsQuery(metric, nil, nil, v1.Timeframe{})
		require.ErrorIs(t, err, storage.ErrUnsupportedMetric, "metric %q", metric)
	}
}

func TestBuildMetricsQuery_FiltersAndTimeframe(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	plan, err := buildMetricsQuery("count", nil,
		map[string]interface{}{
			"type":              "click",
			"properties.plan":   "pro",
			"context.device":    nil,
			"properties.amount": 42,
		},
		v1.Timeframe{Start: start, End: end})
	require.NoError(t, err)

	// Timeframe binds first, then filter keys in sorted order:
	// context.device, properties.amount, properties.plan, type.
	require.Contains(t, plan.groupedSQL, "e.occurred_at >= $1")
	require.Contains(t, plan.groupedSQL, "e.occurred_at <= $2")
	require.Contains(t, plan.groupedSQL, "c.payload #> $3::text[] IS NOT NULL")
	require.Contains(t, plan.groupedSQL, "p.payload #>> $4::text[] = $5")
	require.Contains(t, plan.groupedSQL, "p.payload #>> $6::text[] = $7")
	require.Contains(t, plan.groupedSQL, "e.type = $8")

	require.Equal(t, start, plan.groupedArgs[0])
	require.Equal(t, end, plan.groupedArgs[1])
	require.Equal(t, "42", plan.groupedArgs[4], "filter values compare as text")
	require.Equal(t, "click", plan.groupedArgs[7])

	// The totals query carries the same predicates with its own numbering.
	require.Contains(t, plan.totalSQL, "e.occurred_at >= $1")
	require.Contains(t, plan.totalSQL, "e.type = $8")
	require.Len(t, plan.totalArgs, len(plan.groupedArgs))
}

func TestBuildMetricsQuery_InvalidFilterField(t *testing.T) {
	_, err := buildMetricsQuery("count", nil,
		map[string]interface{}{"payload.plan": "pro"}, v1.Timeframe{})
	require.ErrorIs(t, err, storage.ErrInvalidField)
}

func TestBuildMetricsQuery_InvalidDimension(t *testing.T) {
	_, err := buildMetricsQuery("count", []string{"drop table"}, nil, v1.Timeframe{})
	require.ErrorIs(t, err, storage.ErrInvalidField)
}
