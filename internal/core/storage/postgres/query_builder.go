package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// argBinder accumulates parameterized values and hands out their
// placeholders. All caller-controlled values flow through here; the only
// strings spliced into query text come from the fixed allow-listed fragments
// in identifier.go and queries.go.
type argBinder struct {
	args []interface{}
}

func (b *argBinder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// eventQueryPlan is an assembled read: the paged select, the independent
// count, and their argument lists. countArgs is a prefix of selectArgs
// because sort/limit/offset parameters bind after the shared predicates.
type eventQueryPlan struct {
	selectSQL  string
	selectArgs []interface{}
	countSQL   string
	countArgs  []interface{}
	limit      int
	offset     int
}

// buildEventQuery assembles the filtered, sorted, paginated read for a Query.
func buildEventQuery(query *v1.Query) (*eventQueryPlan, error) {
	b := &argBinder{}

	conds, err := buildEventConditions(b, query)
	if err != nil {
		return nil, err
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countSQL := "SELECT COUNT(*)" + queryFromEvents + where
	countArgs := append([]interface{}(nil), b.args...)

	orderExpr, err := resolveSortExpr(b, query.SortBy)
	if err != nil {
		return nil, err
	}
	direction := "ASC"
	if query.SortDesc {
		direction = "DESC"
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	selectSQL := querySelectEvents + queryFromEvents + where +
		fmt.Sprintf(" ORDER BY %s %s", orderExpr, direction) +
		" LIMIT " + b.bind(limit) +
		" OFFSET " + b.bind(offset)

	return &eventQueryPlan{
		selectSQL:  selectSQL,
		selectArgs: b.args,
		countSQL:   countSQL,
		countArgs:  countArgs,
		limit:      limit,
		offset:     offset,
	}, nil
}

func buildEventConditions(b *argBinder, query *v1.Query) ([]string, error) {
	var conds []string

	if len(query.Types) > 0 {
		types := make([]string, len(query.Types))
		for i, t := range query.Types {
			types[i] = string(t)
		}
		conds = append(conds, "e.type = ANY("+b.bind(pq.Array(types))+")")
	}
	if len(query.Names) > 0 {
		conds = append(conds, "e.name = ANY("+b.bind(pq.Array(query.Names))+")")
	}
	if len(query.UserIDs) > 0 {
		conds = append(conds, "e.user_id = ANY("+b.bind(pq.Array(query.UserIDs))+")")
	}
	if len(query.SessionIDs) > 0 {
		conds = append(conds, "e.session_id = ANY("+b.bind(pq.Array(query.SessionIDs))+")")
	}

	if !query.Start.IsZero() {
		conds = append(conds, "e.occurred_at >= "+b.bind(query.Start))
	}
	if !query.End.IsZero() {
		conds = append(conds, "e.occurred_at <= "+b.bind(query.End))
	}

	propConds, err := buildPayloadConditions(b, "p", query.Properties)
	if err != nil {
		return nil, err
	}
	conds = append(conds, propConds...)

	ctxConds, err := buildPayloadConditions(b, "c", query.Context)
	if err != nil {
		return nil, err
	}
	conds = append(conds, ctxConds...)

	return conds, nil
}

// buildPayloadConditions turns one property/context filter map into
// predicates against the JSONB payload. A nil value becomes an existence
// test, a non-nil value a containment test. Keys are processed in sorted
// order so assembled queries are deterministic. Filter keys travel as
// parameters (never as identifiers), so no grammar restriction applies.
func buildPayloadConditions(b *argBinder, alias string, filter map[string]interface{}) ([]string, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	for _, key := range keys {
		value := filter[key]
		if value == nil {
			conds = append(conds, fmt.Sprintf("jsonb_exists(%s.payload, %s)", alias, b.bind(key)))
			continue
		}

		fragment, err := json.Marshal(map[string]interface{}{key: value})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter value for key %q: %w", key, err)
		}
		conds = append(conds, fmt.Sprintf("%s.payload @> %s::jsonb", alias, b.bind(string(fragment))))
	}
	return conds, nil
}

// resolveSortExpr resolves a sort field to a core column reference or a
// parameterized payload path expression.
func resolveSortExpr(b *argBinder, sortBy string) (string, error) {
	if sortBy == "" {
		return "e.occurred_at", nil
	}

	column, path, err := resolveField(sortBy)
	if err != nil {
		return "", err
	}
	if column != "" {
		return column, nil
	}
	return fmt.Sprintf("%s.payload #>> %s::text[]", path.Alias, b.bind(pq.Array(path.Segments))), nil
}
