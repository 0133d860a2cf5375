package v1

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_Complete(t *testing.T) {
	t.Run("fills all defaults on an empty event", func(t *testing.T) {
		before := time.Now().UTC()
		evt := &Event{}
		evt.Complete("test-source")

		require.NotEmpty(t, evt.ID)
		require.Equal(t, TypeCustom, evt.Type)
		require.Equal(t, DefaultEventName, evt.Name)
		require.Equal(t, "test-source", evt.Source)
		require.WithinDuration(t, before, evt.Timestamp, 2*time.Second)
	})

	t.Run("preserves producer-supplied fields", func(t *testing.T) {
		occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		evt := &Event{
			ID:        "evt-1",
			Type:      TypeClick,
			Name:      "signup_clicked",
			Timestamp: occurred,
			Source:    "web-app",
		}
		evt.Complete("test-source")

		require.Equal(t, "evt-1", evt.ID)
		require.Equal(t, TypeClick, evt.Type)
		require.Equal(t, "signup_clicked", evt.Name)
		require.Equal(t, occurred, evt.Timestamp)
		require.Equal(t, "web-app", evt.Source)
	})

	t.Run("generated IDs are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			evt := &Event{}
			evt.Complete("test")
			require.False(t, seen[evt.ID])
			seen[evt.ID] = true
		}
	})
}

func TestEvent_Validate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		event     Event
		wantField string
	}{
		{
			name:  "valid event passes",
			event: Event{Type: TypePageView, Name: "home", Timestamp: now},
		},
		{
			name:      "missing type",
			event:     Event{Name: "home", Timestamp: now},
			wantField: "type",
		},
		{
			name:      "missing name",
			event:     Event{Type: TypePageView, Timestamp: now},
			wantField: "name",
		},
		{
			name:      "missing timestamp",
			event:     Event{Type: TypePageView, Name: "home"},
			wantField: "timestamp",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.wantField == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.wantField, verr.Field)
		})
	}
}
