package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/pulse-lab/project-pulse/internal/core/storage"
)

// metricsQueryPlan holds the two assembled aggregation reads: the grouped
// query (one row per dimension combination, ordered by value descending) and
// the totals query over the same filters with no grouping.
type metricsQueryPlan struct {
	groupedSQL  string
	groupedArgs []interface{}
	totalSQL    string
	totalArgs   []interface{}
}

// buildMetricsQuery assembles the grouped and totals aggregation queries.
// The metric name is resolved against the closed supported set before
// anything else; an unrecognized name fails with ErrUnsupportedMetric and no
// query is issued.
func buildMetricsQuery(
	metric string,
	dimensions []string,
	filters map[string]interface{},
	timeframe v1.Timeframe,
) (*metricsQueryPlan, error) {
	// Resolve the metric first with a throwaway binder: placeholder numbering
	// differs between the grouped and totals queries.
	if _, err := resolveMetricExpr(&argBinder{}, metric); err != nil {
		return nil, err
	}

	grouped := &argBinder{}
	groupedSQL, err := assembleGroupedQuery(grouped, metric, dimensions, filters, timeframe)
	if err != nil {
		return nil, err
	}

	total := &argBinder{}
	totalSQL, err := assembleTotalQuery(total, metric, filters, timeframe)
	if err != nil {
		return nil, err
	}

	return &metricsQueryPlan{
		groupedSQL:  groupedSQL,
		groupedArgs: grouped.args,
		totalSQL:    totalSQL,
		totalArgs:   total.args,
	}, nil
}

func assembleGroupedQuery(
	b *argBinder,
	metric string,
	dimensions []string,
	filters map[string]interface{},
	timeframe v1.Timeframe,
) (string, error) {
	// Dimension resolution is order-preserving and 1:1 with the caller's
	// list so result rows can be re-keyed by dimension name.
	selects := make([]string, 0, len(dimensions)+1)
	groupBy := make([]string, 0, len(dimensions))
	for i, dim := range dimensions {
		expr, err := resolveDimensionExpr(b, dim)
		if err != nil {
			return "", err
		}
		selects = append(selects, fmt.Sprintf("%s AS dim_%d", expr, i))
		groupBy = append(groupBy, fmt.Sprintf("%d", i+1))
	}

	metricExpr, err := resolveMetricExpr(b, metric)
	if err != nil {
		return "", err
	}
	selects = append(selects, metricExpr+" AS value")

	where, err := buildMetricsWhere(b, filters, timeframe)
	if err != nil {
		return "", err
	}

	sql := "SELECT " + strings.Join(selects, ", ") + queryFromEvents + where
	if len(groupBy) > 0 {
		sql += " GROUP BY " + strings.Join(groupBy, ", ")
	}
	sql += " ORDER BY value DESC"
	return sql, nil
}

func assembleTotalQuery(
	b *argBinder,
	metric string,
	filters map[string]interface{},
	timeframe v1.Timeframe,
) (string, error) {
	metricExpr, err := resolveMetricExpr(b, metric)
	if err != nil {
		return "", err
	}
	where, err := buildMetricsWhere(b, filters, timeframe)
	if err != nil {
		return "", err
	}
	return "SELECT " + metricExpr + " AS value" + queryFromEvents + where, nil
}

// resolveMetricExpr maps a metric name onto its SQL aggregate expression.
// The set is closed: count, unique_<core-field>, avg_properties.<x>,
// sum_properties.<x>.
func resolveMetricExpr(b *argBinder, metric string) (string, error) {
	switch {
	case metric == "count":
		return "COUNT(*)", nil

	case strings.HasPrefix(metric, "unique_"):
		field := strings.TrimPrefix(metric, "unique_")
		column, ok := coreColumns[field]
		if !ok {
			return "", fmt.Errorf("%w: %q (unique_ requires a core field)", storage.ErrUnsupportedMetric, metric)
		}
		return fmt.Sprintf("COUNT(DISTINCT %s)", column), nil

	case strings.HasPrefix(metric, "avg_"), strings.HasPrefix(metric, "sum_"):
		fn := strings.ToUpper(metric[:3])
		path, err := parsePayloadPath(metric[4:])
		if err != nil {
			return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedMetric, metric)
		}
		return fmt.Sprintf("%s((%s.payload #>> %s::text[])::numeric)",
			fn, path.Alias, b.bind(pq.Array(path.Segments))), nil

	default:
		return "", fmt.Errorf("%w: %q", storage.ErrUnsupportedMetric, metric)
	}
}

// resolveDimensionExpr maps a dimension onto a core column reference or a
// parameterized payload path expression.
func resolveDimensionExpr(b *argBinder, dimension string) (string, error) {
	column, path, err := resolveField(dimension)
	if err != nil {
		return "", err
	}
	if column != "" {
		return column, nil
	}
	return fmt.Sprintf("%s.payload #>> %s::text[]", path.Alias, b.bind(pq.Array(path.Segments))), nil
}

// buildMetricsWhere turns the aggregation filter map and timeframe into
// predicates. Filter keys may name core fields (equality) or dotted payload
// paths (equality, or existence when the value is nil).
func buildMetricsWhere(b *argBinder, filters map[string]interface{}, timeframe v1.Timeframe) (string, error) {
	var conds []string

	if !timeframe.Start.IsZero() {
		conds = append(conds, "e.occurred_at >= "+b.bind(timeframe.Start))
	}
	if !timeframe.End.IsZero() {
		conds = append(conds, "e.occurred_at <= "+b.bind(timeframe.End))
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filters[key]

		column, path, err := resolveField(key)
		if err != nil {
			return "", err
		}

		if column != "" {
			conds = append(conds, fmt.Sprintf("%s = %s", column, b.bind(fmt.Sprintf("%v", value))))
			continue
		}

		pathParam := b.bind(pq.Array(path.Segments))
		if value == nil {
			conds = append(conds, fmt.Sprintf("%s.payload #> %s::text[] IS NOT NULL", path.Alias, pathParam))
			continue
		}
		conds = append(conds, fmt.Sprintf("%s.payload #>> %s::text[] = %s",
			path.Alias, pathParam, b.bind(fmt.Sprintf("%v", value))))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}
