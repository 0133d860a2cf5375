package postgres

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pulse-lab/project-pulse/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func TestResolveField_CoreColumns(t *testing.T) {
	tests := map[string]string{
		"id":          "e.id",
		"type":        "e.type",
		"name":        "e.name",
		"timestamp":   "e.occurred_at",
		"user_id":     "e.user_id",
		"session_id":  "e.session_id",
		"source":      "e.source",
		"ingested_at": "e.ingested_at",
	}
	for field, want := range tests {
		column, path, err := resolveField(field)
		require.NoError(t, err)
		require.Nil(t, path)
		require.Equal(t, want, column)
	}
}

func TestParsePayloadPath(t *testing.T) {
	tests := []struct {
		field     string
		wantAlias string
		wantSegs  []string
		wantErr   bool
	}{
		{field: "properties.plan", wantAlias: "p", wantSegs: []string{"plan"}},
		{field: "context.device", wantAlias: "c", wantSegs: []string{"device"}},
		{field: "properties.cart.items", wantAlias: "p", wantSegs: []string{"cart", "items"}},
		{field: "properties.utm-source", wantAlias: "p", wantSegs: []string{"utm-source"}},
		{field: "properties._internal", wantAlias: "p", wantSegs: []string{"_internal"}},
		{field: "plan", wantErr: true},
		{field: "payload.plan", wantErr: true},
		{field: "properties.", wantErr: true},
		{field: "properties.bad key", wantErr: true},
		{field: "properties.1starts_with_digit", wantErr: true},
		{field: "properties.a;drop", wantErr: true},
		{field: "properties.a.b.c.d.e.f.g.h.i", wantErr: true}, // depth 9
	}

	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			path, err := parsePayloadPath(tc.field)
			if tc.wantErr {
				require.ErrorIs(t, err, storage.ErrInvalidField)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantAlias, path.Alias)
			require.Equal(t, tc.wantSegs, path.Segments)
		})
	}
}

func TestParsePayloadPath_Properties(t *testing.T) {
	segGen := gen.RegexMatch(`[A-Za-z_][A-Za-z0-9_-]{0,8}`)

	properties := gopter.NewProperties(nil)

	properties.Property("well-formed paths always resolve with the right alias and depth",
		prop.ForAll(func(depth int, seg string) bool {
			segs := make([]string, depth)
			for i := range segs {
				segs[i] = seg
			}
			path, err := parsePayloadPath("context." + strings.Join(segs, "."))
			return err == nil && path.Alias == "c" && len(path.Segments) == depth
		}, gen.IntRange(1, maxPathDepth), segGen))

	properties.Property("unknown roots never resolve",
		prop.ForAll(func(root, seg string) bool {
			if root == "properties" || root == "context" {
				return true
			}
			_, err := parsePayloadPath(root + "." + seg)
			return err != nil
		}, segGen, segGen))

	properties.TestingRun(t)
}
