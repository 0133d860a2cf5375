package pipeline

import (
	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
)

// Context is the transient per-event state threaded through the stages.
// It is created fresh at pipeline entry and discarded after the run.
//
// Stages mutate the event in place (or replace it outright via a transform
// stage). Meta is free-form scratch space for cooperating stages; everything
// with defined semantics lives in a named field.
type Context struct {
	// Event is the mutable event under construction.
	Event *v1.Event

	// Meta is a free-form metadata bag shared between stages.
	Meta map[string]interface{}

	// SkipStorage marks the event as processed but not to be persisted
	// (set by filter and rate-limit stages).
	SkipStorage bool

	// Aborted is set when a stage failed and the pipeline is configured to
	// halt on errors. No further stages run once it is set.
	Aborted bool

	// Err holds the first captured stage error, wrapped as *StageError.
	Err error
}

// NewContext creates a processing context for one event.
func NewContext(event *v1.Event) *Context {
	return &Context{
		Event: event,
		Meta:  make(map[string]interface{}),
	}
}

// OK reports whether the event survived the pipeline and should be stored.
func (c *Context) OK() bool {
	return !c.SkipStorage && !c.Aborted
}
