package postgres

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pulse-lab/project-pulse/internal/core/storage"
)

// Caller-supplied field names become column or path references in dynamically
// assembled SQL. Values are always parameterized, but identifiers cannot be,
// so every identifier is resolved through the fixed core-column allow-list or
// validated against the dotted-path grammar below before use.

// ErrInvalidField aliases the boundary sentinel so callers can match with
// errors.Is without importing this package.
var ErrInvalidField = storage.ErrInvalidField

const maxPathDepth = 8

var pathSegmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// coreColumns maps public field names to their SQL column references.
// The events table is aliased "e" in every assembled query.
var coreColumns = map[string]string{
	"id":          "e.id",
	"type":        "e.type",
	"name":        "e.name",
	"timestamp":   "e.occurred_at",
	"user_id":     "e.user_id",
	"session_id":  "e.session_id",
	"source":      "e.source",
	"ingested_at": "e.ingested_at",
}

// payloadPath is a validated dotted path into one of the semi-structured
// payload tables. Alias is "p" (event_properties) or "c" (event_contexts);
// Segments holds the path inside the JSONB payload, passed as a text[]
// parameter rather than spliced into the query text.
type payloadPath struct {
	Alias    string
	Segments []string
}

// resolveField classifies a caller-supplied field name as either a core
// column (returning its SQL reference) or a payload path.
func resolveField(field string) (column string, path *payloadPath, err error) {
	if col, ok := coreColumns[field]; ok {
		return col, nil, nil
	}
	p, err := parsePayloadPath(field)
	if err != nil {
		return "", nil, err
	}
	return "", p, nil
}

// parsePayloadPath validates a dotted path of the form
// "properties.<seg>[.<seg>...]" or "context.<seg>[.<seg>...]".
func parsePayloadPath(field string) (*payloadPath, error) {
	segments := strings.Split(field, ".")
	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: %q is not a core field or payload path", ErrInvalidField, field)
	}
	if len(segments)-1 > maxPathDepth {
		return nil, fmt.Errorf("%w: %q exceeds maximum path depth %d", ErrInvalidField, field, maxPathDepth)
	}

	var alias string
	switch segments[0] {
	case "properties":
		alias = "p"
	case "context":
		alias = "c"
	default:
		return nil, fmt.Errorf("%w: %q must start with properties. or context.", ErrInvalidField, field)
	}

	for _, seg := range segments[1:] {
		if !pathSegmentPattern.MatchString(seg) {
			return nil, fmt.Errorf("%w: path segment %q in %q", ErrInvalidField, seg, field)
		}
	}

	return &payloadPath{Alias: alias, Segments: segments[1:]}, nil
}
