package admitflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Definition is an immutable lifecycle graph. It holds no per-application
// state: Fire applies an event to the Application passed in, so one
// Definition serves every application concurrently.
type Definition struct {
	name        string
	initial     Status
	states      map[Status]*stateConfig
	order       []Status
	transitions map[Status][]*Transition
	all         []*Transition
	observers   *ObserverManager
	clock       Clock
}

// safeEvaluateGuard safely evaluates a guard function with panic recovery
func safeEvaluateGuard(guard GuardFunc, ctx *Context) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("guard panic: %v", r)
		}
	}()

	result = guard(ctx)
	return result, nil
}

// safeExecuteAction safely executes an action function with panic recovery
func safeExecuteAction(action ActionFunc, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	err = action(ctx)
	return err
}

// Name returns the definition name
func (d *Definition) Name() string {
	return d.name
}

// InitialState returns the entry state
func (d *Definition) InitialState() Status {
	return d.initial
}

// States returns every declared state in declaration order
func (d *Definition) States() []Status {
	return append([]Status(nil), d.order...)
}

// IsFinal reports whether the state was declared final
func (d *Definition) IsFinal(status Status) bool {
	cfg, ok := d.states[status]
	return ok && cfg.final
}

// Transitions returns a copy of every transition in declaration order
func (d *Definition) Transitions() []Transition {
	out := make([]Transition, 0, len(d.all))
	for _, t := range d.all {
		out = append(out, *t)
	}
	return out
}

// Events returns the sorted set of events with at least one edge out of status
func (d *Definition) Events(from Status) []string {
	seen := make(map[string]bool)
	var events []string
	for _, t := range d.transitions[from] {
		if !seen[t.EventName] {
			seen[t.EventName] = true
			events = append(events, t.EventName)
		}
	}
	sort.Strings(events)
	return events
}

// Permits reports whether an edge exists for the event, ignoring guards
func (d *Definition) Permits(from Status, event string) bool {
	for _, t := range d.transitions[from] {
		if t.EventName == event {
			return true
		}
	}
	return false
}

// Can reports whether Fire would find an enabled transition for the event.
// Guards are evaluated; actions are not run.
func (d *Definition) Can(app *Application, event *Event) bool {
	if app == nil || event == nil {
		return false
	}
	mctx := d.newContext(context.Background(), app, event)
	_, _, err := d.selectTransition(app.Status, event, mctx, false)
	return err == nil
}

// AddObserver registers an observer for every application fired through d
func (d *Definition) AddObserver(observer Observer) {
	d.observers.AddObserver(observer)
}

// RemoveObserver unregisters an observer
func (d *Definition) RemoveObserver(observer Observer) {
	d.observers.RemoveObserver(observer)
}

// SetClock replaces the clock used for LastUpdated and history timestamps.
// It must be called before the definition is shared.
func (d *Definition) SetClock(clock Clock) {
	if clock != nil {
		d.clock = clock
	}
}

// Start places a new application in the initial state and records the
// submission in its history
func (d *Definition) Start(ctx context.Context, app *Application, event *Event) *EventResult {
	if event == nil {
		event = NewEvent(EventSubmitted)
	}
	result := d.ApplyStart(ctx, app, event)
	if result.Success() {
		d.Announce(ctx, app, event, result.PreviousState, result.CurrentState)
	}
	return result
}

// ApplyStart is Start without telling observers about the transition. Use
// Announce once the new application is stored.
func (d *Definition) ApplyStart(ctx context.Context, app *Application, event *Event) *EventResult {
	if app == nil {
		return NewEventResult(false, false, "", "").WithError(errors.New("nil application"))
	}
	if event == nil {
		event = NewEvent(EventSubmitted)
	}
	previous := app.Status
	mctx := d.newContext(ctx, app, event)
	mctx.updateTransitionInfo(previous, d.initial)

	if cfg := d.states[d.initial]; cfg != nil && cfg.entry != nil {
		d.observers.NotifyActionExecution(previous, d.initial, event, mctx)
		if err := safeExecuteAction(cfg.entry, mctx); err != nil {
			actionErr := NewActionError(event.Name, d.initial, err)
			d.observers.NotifyError(actionErr, mctx)
			return NewEventResult(false, false, previous, previous).WithError(actionErr)
		}
	}

	now := d.clock.Now()
	app.Status = d.initial
	app.SubmissionDate = now
	app.LastUpdated = now
	app.History = append(app.History, StatusChange{
		From:    previous,
		To:      d.initial,
		Event:   event.Name,
		Actor:   event.Actor,
		Comment: event.Comment,
		At:      now,
	})
	return NewEventResult(true, previous != d.initial, previous, d.initial)
}

// Fire applies the event to the application. On success the status,
// LastUpdated and History of app are updated in place. On failure app keeps
// its status and the result carries a *TransitionError or *ActionError.
func (d *Definition) Fire(ctx context.Context, app *Application, event *Event) *EventResult {
	result := d.Apply(ctx, app, event)
	if result.Success() {
		d.Announce(ctx, app, event, result.PreviousState, result.CurrentState)
	}
	return result
}

// Apply is Fire without the OnTransition callback. Callers that persist app
// after Apply call Announce once the write has committed, so observers never
// count a transition that was rolled back. Rejections, guard evaluations and
// action errors are still reported as they happen.
func (d *Definition) Apply(ctx context.Context, app *Application, event *Event) *EventResult {
	if app == nil || event == nil {
		return NewEventResult(false, false, "", "").WithError(errors.New("nil application or event"))
	}

	from := app.Status
	mctx := d.newContext(ctx, app, event)

	transition, target, err := d.selectTransition(from, event, mctx, true)
	if err != nil {
		d.observers.NotifyEventRejected(event, err.Error(), mctx)
		return NewEventResult(false, false, from, from).WithError(err).WithRejection(err.Error())
	}

	mctx.updateTransitionInfo(from, target)

	if transition.Action != nil {
		d.observers.NotifyActionExecution(from, target, event, mctx)
		if err := safeExecuteAction(transition.Action, mctx); err != nil {
			actionErr := NewActionError(event.Name, from, err)
			d.observers.NotifyError(actionErr, mctx)
			return NewEventResult(false, false, from, from).WithError(actionErr)
		}
	}

	if cfg := d.states[target]; cfg != nil && cfg.entry != nil {
		if err := safeExecuteAction(cfg.entry, mctx); err != nil {
			actionErr := NewActionError(event.Name, target, err)
			d.observers.NotifyError(actionErr, mctx)
			return NewEventResult(false, false, from, from).WithError(actionErr)
		}
	}

	now := d.clock.Now()
	app.Status = target
	app.LastUpdated = now
	app.History = append(app.History, StatusChange{
		From:    from,
		To:      target,
		Event:   event.Name,
		Actor:   event.Actor,
		Comment: event.Comment,
		Reasons: append([]string(nil), event.Reasons...),
		At:      now,
	})
	return NewEventResult(true, from != target, from, target)
}

// Announce tells observers that app moved from one status to another
func (d *Definition) Announce(ctx context.Context, app *Application, event *Event, from, to Status) {
	mctx := d.newContext(ctx, app, event)
	mctx.updateTransitionInfo(from, to)
	d.observers.NotifyTransition(from, to, event, mctx)
}

func (d *Definition) newContext(parent context.Context, app *Application, event *Event) *Context {
	mctx := NewContext(parent, app, event)
	mctx.clock = d.clock
	return mctx
}

// selectTransition returns the first transition out of from whose event
// matches and whose guard passes
func (d *Definition) selectTransition(from Status, event *Event, mctx *Context, notify bool) (*Transition, Status, error) {
	if _, known := d.states[from]; !known {
		return nil, from, NewNoTransitionError(from, event.Name)
	}

	var rejected *Transition
	for _, t := range d.transitions[from] {
		if t.EventName != event.Name {
			continue
		}
		if t.Guard != nil {
			mctx.updateTransitionInfo(from, t.TargetState)
			passed, err := safeEvaluateGuard(t.Guard, mctx)
			if notify {
				d.observers.NotifyGuardEvaluation(from, t.TargetState, event, passed, mctx)
				if err != nil {
					d.observers.NotifyError(err, mctx)
				}
			}
			if !passed {
				rejected = t
				continue
			}
		}
		return t, t.TargetState, nil
	}

	if rejected != nil {
		return nil, from, NewGuardRejectedError(from, rejected.TargetState, event.Name, rejected.GuardName)
	}
	return nil, from, NewNoTransitionError(from, event.Name)
}
