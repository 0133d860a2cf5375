package pipeline

import (
	"context"
	"log/slog"

	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
)

// EnrichTarget selects which payload map an enrichment stage writes into.
type EnrichTarget string

const (
	TargetProperties EnrichTarget = "properties"
	TargetContext    EnrichTarget = "context"
)

// LoggingStage logs the event before and after the rest of the chain runs.
func LoggingStage(logger *slog.Logger) Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return Stage{
		Name: "logging",
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			logger.Debug("[Pipeline] Processing event",
				"event_id", pc.Event.ID,
				"event_type", pc.Event.Type,
				"event_name", pc.Event.Name)

			if err := next(ctx); err != nil {
				return err
			}

			logger.Debug("[Pipeline] Processed event",
				"event_id", pc.Event.ID,
				"skip_storage", pc.SkipStorage,
				"aborted", pc.Aborted)
			return nil
		},
	}
}

// FilterStage drops events failing the predicate: it marks them SkipStorage
// and does not call next, short-circuiting all later stages.
func FilterStage(name string, predicate func(*v1.Event) bool) Stage {
	return Stage{
		Name: name,
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			if !predicate(pc.Event) {
				pc.SkipStorage = true
				return nil
			}
			return next(ctx)
		},
	}
}

// EnrichStage injects computed fields into the event's properties or context.
// The lookup may perform I/O; its result is merged key-by-key into the target
// map, overwriting existing keys.
func EnrichStage(name string, target EnrichTarget, lookup func(context.Context, *v1.Event) (map[string]interface{}, error)) Stage {
	return Stage{
		Name: name,
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			fields, err := lookup(ctx, pc.Event)
			if err != nil {
				return err
			}
			mergeInto(pc.Event, target, fields)
			return next(ctx)
		},
	}
}

// TransformStage replaces the event outright with the transformer's output.
func TransformStage(name string, transform func(context.Context, *v1.Event) (*v1.Event, error)) Stage {
	return Stage{
		Name: name,
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			replaced, err := transform(ctx, pc.Event)
			if err != nil {
				return err
			}
			if replaced != nil {
				pc.Event = replaced
			}
			return next(ctx)
		},
	}
}

// UserEnrichStage looks up user data by UserID and merges it into the event's
// properties. Events without a UserID pass through untouched.
func UserEnrichStage(lookup func(context.Context, string) (map[string]interface{}, error)) Stage {
	return Stage{
		Name: "user_enrich",
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			if pc.Event.UserID == "" {
				return next(ctx)
			}
			fields, err := lookup(ctx, pc.Event.UserID)
			if err != nil {
				return err
			}
			mergeInto(pc.Event, TargetProperties, fields)
			return next(ctx)
		},
	}
}

// GeoEnrichStage resolves geo data from context["ip"] and merges it into the
// event's context. Events without an IP pass through untouched.
func GeoEnrichStage(lookup func(context.Context, string) (map[string]interface{}, error)) Stage {
	return Stage{
		Name: "geo_enrich",
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			ip, _ := pc.Event.Context["ip"].(string)
			if ip == "" {
				return next(ctx)
			}
			fields, err := lookup(ctx, ip)
			if err != nil {
				return err
			}
			mergeInto(pc.Event, TargetContext, fields)
			return next(ctx)
		},
	}
}

// DeviceEnrichStage derives device fields from context["userAgent"] and
// merges them into the event's context. Parsing is pure computation, so the
// parser takes no context.
func DeviceEnrichStage(parse func(userAgent string) map[string]interface{}) Stage {
	return Stage{
		Name: "device_enrich",
		Handler: func(ctx context.Context, pc *Context, next Next) error {
			ua, _ := pc.Event.Context["userAgent"].(string)
			if ua == "" {
				return next(ctx)
			}
			mergeInto(pc.Event, TargetContext, parse(ua))
			return next(ctx)
		},
	}
}

func mergeInto(event *v1.Event, target EnrichTarget, fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	switch target {
	case TargetContext:
		if event.Context == nil {
			event.Context = make(map[string]interface{}, len(fields))
		}
		for k, v := range fields {
			event.Context[k] = v
		}
	default:
		if event.Properties == nil {
			event.Properties = make(map[string]interface{}, len(fields))
		}
		for k, v := range fields {
			event.Properties[k] = v
		}
	}
}
