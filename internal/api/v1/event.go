package v1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of event categories Pulse accepts.
type EventType string

const (
	TypePageView            EventType = "page_view"
	TypeClick               EventType = "click"
	TypeFormSubmit          EventType = "form_submit"
	TypeFeatureUsage        EventType = "feature_usage"
	TypeError               EventType = "error"
	TypePerformance         EventType = "performance"
	TypeConversion          EventType = "conversion"
	TypeCampaignInteraction EventType = "campaign_interaction"
	TypeSessionStart        EventType = "session_start"
	TypeSessionEnd          EventType = "session_end"
	TypeCustom              EventType = "custom"
)

// DefaultEventName is assigned when a producer omits the event name.
const DefaultEventName = "custom_event"

// Event is the atomic unit of the system. Once stored it is immutable.
//
// The envelope (ID, Type, Name, Timestamp, correlation IDs, Source) is what
// the query and aggregation layers index on. The open Properties and Context
// maps carry the business payload and the captured environment; both are
// schema-less by design and queried via dotted-path resolution.
type Event struct {
	// ID is the globally unique identifier. Generated on completion if the
	// producer did not supply one. Retried batch writes rely on ID for
	// idempotency, so producers supplying their own IDs must keep them unique.
	ID string `json:"id"`

	// Type is one of the closed EventType categories. Defaults to "custom".
	Type EventType `json:"type"`

	// Name is the free-text event name within its type (e.g. "signup_clicked").
	Name string `json:"name"`

	// Timestamp is when the event occurred (producer clock). Defaults to the
	// ingestion time when absent.
	Timestamp time.Time `json:"timestamp"`

	// UserID and SessionID are optional correlation identifiers.
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Properties is the event's business payload: an open mapping of string
	// keys to scalar/JSON values.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// Context captures the environment the event was produced in (user agent,
	// IP, URL, referrer, device, geo, UTM parameters). Enrichment stages
	// populate it incrementally.
	Context map[string]interface{} `json:"context,omitempty"`

	// Source tags which producer emitted the event. Defaults to the name of
	// the ingesting component.
	Source string `json:"source,omitempty"`

	// IngestedAt is when Pulse received the event (server-side clock).
	// Set by the ingestion service, not the producer.
	IngestedAt time.Time `json:"ingested_at"`
}

// ValidationError reports a required envelope field that is missing after
// defaulting. In practice this only triggers when a caller explicitly passes
// an empty string for a field that would otherwise have been defaulted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event validation failed: %s is required", e.Field)
}

// Complete fills the defaults for a partially-filled event: a generated ID,
// type "custom", name "custom_event", the current time, and the given source.
// Fields the producer supplied are left untouched.
func (e *Event) Complete(source string) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = TypeCustom
	}
	if e.Name == "" {
		e.Name = DefaultEventName
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Source == "" {
		e.Source = source
	}
}

// Validate ensures the event has all required envelope fields.
// Call after Complete; the zero-value checks mirror the defaulting rules.
func (e *Event) Validate() error {
	if e.Type == "" {
		return &ValidationError{Field: "type"}
	}
	if e.Name == "" {
		return &ValidationError{Field: "name"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp"}
	}
	return nil
}
