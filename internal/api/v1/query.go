package v1

import "time"

// Query is a read request against the stored event set.
//
// List filters become membership tests. Properties/Context filter maps test
// the semi-structured payload: a nil value means "key exists", a non-nil
// value means "key equals value". SortBy accepts a core field name or a
// dotted path into the payload ("properties.plan", "context.geo.country").
type Query struct {
	Types      []EventType `json:"types,omitempty"`
	Names      []string    `json:"names,omitempty"`
	UserIDs    []string    `json:"user_ids,omitempty"`
	SessionIDs []string    `json:"session_ids,omitempty"`

	Properties map[string]interface{} `json:"properties,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`

	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`

	SortBy   string `json:"sort_by,omitempty"`
	SortDesc bool   `json:"sort_desc,omitempty"`
}

// QueryResult is one page of matching events plus the filtered total count,
// which is computed independently of the page window.
type QueryResult struct {
	Events     []*Event `json:"events"`
	TotalCount int      `json:"total_count"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
}

// Timeframe bounds an aggregation request. Zero values mean unbounded.
type Timeframe struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// MetricGroup is one dimension combination and its aggregated value.
// Dimensions is keyed by the caller's requested dimension names, 1:1.
type MetricGroup struct {
	Dimensions map[string]string `json:"dimensions"`
	Value      float64           `json:"value"`
}

// AggregatedMetrics is the result of a grouped aggregation query: one group
// per dimension combination plus a grand total over the same filters.
type AggregatedMetrics struct {
	Metric     string        `json:"metric"`
	Dimensions []string      `json:"dimensions"`
	Groups     []MetricGroup `json:"groups"`
	Total      float64       `json:"total"`
}
