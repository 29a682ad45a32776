package admitflow

// ActionFunc runs while a transition is taken. Returning an error aborts the
// transition before the status changes.
type ActionFunc func(ctx *Context) error

// GuardFunc decides whether a transition may be taken
type GuardFunc func(ctx *Context) bool

// Transition represents a status transition
type Transition struct {
	SourceState Status
	TargetState Status
	EventName   string
	Guard       GuardFunc
	GuardName   string
	Action      ActionFunc
}

// NewTransition creates a new transition
func NewTransition(sourceState, targetState Status, eventName string) *Transition {
	return &Transition{
		SourceState: sourceState,
		TargetState: targetState,
		EventName:   eventName,
	}
}

// WithGuard adds a guard condition to the transition
func (t *Transition) WithGuard(name string, guard GuardFunc) *Transition {
	t.Guard = guard
	t.GuardName = name
	return t
}

// WithAction adds an action to the transition
func (t *Transition) WithAction(action ActionFunc) *Transition {
	t.Action = action
	return t
}
