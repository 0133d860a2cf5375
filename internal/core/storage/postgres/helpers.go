package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	"github.com/shopspring/decimal"
)

// marshalPayloads marshals the event's properties and context maps to JSON.
// Empty maps produce nil (SQL NULL is never written; the payload row is
// simply not inserted).
func marshalPayloads(event *v1.Event) (propsJSON, ctxJSON []byte, err error) {
	if len(event.Properties) > 0 {
		propsJSON, err = json.Marshal(event.Properties)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal properties: %w", err)
		}
	}
	if len(event.Context) > 0 {
		ctxJSON, err = json.Marshal(event.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal context: %w", err)
		}
	}
	return propsJSON, ctxJSON, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans one joined row into an Event, unmarshalling the
// payload columns when present.
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var userID, sessionID, source sql.NullString
	var propsJSON, ctxJSON []byte

	err := row.Scan(
		&evt.ID,
		&evt.Type,
		&evt.Name,
		&evt.Timestamp,
		&userID,
		&sessionID,
		&source,
		&evt.IngestedAt,
		&propsJSON,
		&ctxJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	evt.UserID = userID.String
	evt.SessionID = sessionID.String
	evt.Source = source.String

	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &evt.Properties); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
		}
	}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &evt.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	return &evt, nil
}

// scanMetricGroup scans one grouped aggregation row: the dimension columns in
// request order followed by the aggregate value. Dimension values arrive as
// text; NULLs (events lacking the payload key) re-key as the empty string.
func scanMetricGroup(row scanner, dimensions []string) (v1.MetricGroup, error) {
	dimValues := make([]sql.NullString, len(dimensions))
	var valueRaw sql.NullString

	dest := make([]interface{}, 0, len(dimensions)+1)
	for i := range dimValues {
		dest = append(dest, &dimValues[i])
	}
	dest = append(dest, &valueRaw)

	if err := row.Scan(dest...); err != nil {
		return v1.MetricGroup{}, fmt.Errorf("failed to scan metric group: %w", err)
	}

	group := v1.MetricGroup{
		Dimensions: make(map[string]string, len(dimensions)),
		Value:      parseNumeric(valueRaw),
	}
	for i, dim := range dimensions {
		group.Dimensions[dim] = dimValues[i].String
	}
	return group, nil
}

// parseNumeric converts an aggregate value from Postgres to float64.
// COUNT comes back as an integer string, SUM/AVG over numeric as an exact
// decimal string; decimal parsing avoids float drift on the way in. NULL
// (aggregate over zero rows) parses as 0.
func parseNumeric(raw sql.NullString) float64 {
	if !raw.Valid || raw.String == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw.String)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
