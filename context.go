package admitflow

import (
	"context"
	"sync"
	"time"
)

// Context carries the application and event through guards, actions and
// observers during a single Fire call
type Context struct {
	context.Context

	application *Application
	event       *Event
	sourceState Status
	targetState Status
	clock       Clock

	data  map[string]any
	mutex sync.RWMutex
}

// NewContext creates a new transition context
func NewContext(parent context.Context, app *Application, event *Event) *Context {
	if parent == nil {
		parent = context.Background()
	}
	ctx := &Context{
		Context:     parent,
		application: app,
		event:       event,
		clock:       SystemClock{},
		data:        make(map[string]any),
	}
	if app != nil {
		ctx.sourceState = app.Status
	}
	return ctx
}

// Application returns the application being transitioned
func (ctx *Context) Application() *Application {
	return ctx.application
}

// Event returns the triggering event
func (ctx *Context) Event() *Event {
	return ctx.event
}

// EventName returns the name of the triggering event, or "" if none
func (ctx *Context) EventName() string {
	if ctx.event == nil {
		return ""
	}
	return ctx.event.Name
}

// EventData returns the data attached to the triggering event
func (ctx *Context) EventData() any {
	if ctx.event == nil {
		return nil
	}
	return ctx.event.Data
}

// SourceState returns the status before the transition
func (ctx *Context) SourceState() Status {
	return ctx.sourceState
}

// TargetState returns the status the transition leads to
func (ctx *Context) TargetState() Status {
	return ctx.targetState
}

// Now returns the current time from the definition's clock
func (ctx *Context) Now() time.Time {
	return ctx.clock.Now()
}

// Get retrieves a value from the context
func (ctx *Context) Get(key string) (any, bool) {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	value, exists := ctx.data[key]
	return value, exists
}

// Set stores a value in the context
func (ctx *Context) Set(key string, value any) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.data[key] = value
}

// GetAll returns a copy of all stored values
func (ctx *Context) GetAll() map[string]any {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	result := make(map[string]any, len(ctx.data))
	for k, v := range ctx.data {
		result[k] = v
	}
	return result
}

func (ctx *Context) updateTransitionInfo(source, target Status) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.sourceState = source
	ctx.targetState = target
}
