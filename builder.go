package admitflow

import (
	"fmt"
)

// MachineBuilder provides the main entry point for building a lifecycle definition
type MachineBuilder interface {
	State(status Status) StateBuilder
	Build() *Definition
}

// StateBuilder handles state configuration
type StateBuilder interface {
	To(target Status) TransitionBuilder
	ToSelf() TransitionBuilder

	OnEntry(action ActionFunc) StateBuilder
	Final() StateBuilder
	Initial() StateBuilder

	State(status Status) StateBuilder
	Build() *Definition
}

// TransitionBuilder handles transition configuration with inline actions
type TransitionBuilder interface {
	// Event binding
	On(event string) TransitionBuilder

	// Conditions
	When(guard GuardFunc) TransitionBuilder
	WhenNamed(name string, guard GuardFunc) TransitionBuilder
	Unless(guard GuardFunc) TransitionBuilder

	// Actions
	Do(action ActionFunc) TransitionBuilder

	// Multiple transitions from same state
	To(target Status) TransitionBuilder
	ToSelf() TransitionBuilder

	// Navigation back
	State(status Status) StateBuilder
	Build() *Definition
}

type stateConfig struct {
	status Status
	final  bool
	entry  ActionFunc
}

type machineBuilderImpl struct {
	name        string
	initial     Status
	states      map[Status]*stateConfig
	order       []Status
	transitions []*Transition
	built       *Definition
}

// NewMachine creates a new machine builder
func NewMachine(name string) MachineBuilder {
	return &machineBuilderImpl{
		name:   name,
		states: make(map[Status]*stateConfig),
	}
}

// State creates or reopens a state builder
func (mb *machineBuilderImpl) State(status Status) StateBuilder {
	cfg, exists := mb.states[status]
	if !exists {
		cfg = &stateConfig{status: status}
		mb.states[status] = cfg
		mb.order = append(mb.order, status)
	}
	return &stateBuilderImpl{machineBuilder: mb, state: cfg}
}

// Build validates the configuration and constructs the definition. It panics
// on an invalid configuration since definitions are built at startup.
func (mb *machineBuilderImpl) Build() *Definition {
	if mb.built != nil {
		return mb.built
	}
	if err := mb.validate(); err != nil {
		panic(fmt.Sprintf("Failed to build machine: %v", err))
	}

	def := &Definition{
		name:        mb.name,
		initial:     mb.initial,
		states:      make(map[Status]*stateConfig, len(mb.states)),
		order:       append([]Status(nil), mb.order...),
		transitions: make(map[Status][]*Transition),
		observers:   NewObserverManager(),
		clock:       SystemClock{},
	}
	for status, cfg := range mb.states {
		copied := *cfg
		def.states[status] = &copied
	}
	for _, t := range mb.transitions {
		copied := *t
		def.transitions[t.SourceState] = append(def.transitions[t.SourceState], &copied)
		def.all = append(def.all, &copied)
	}

	mb.built = def
	return def
}

func (mb *machineBuilderImpl) validate() error {
	if mb.initial == "" {
		return NewConfigurationError("machine "+mb.name, "no initial state defined")
	}
	for _, t := range mb.transitions {
		if t.EventName == "" {
			return NewConfigurationError("transition",
				fmt.Sprintf("transition %s->%s has no event", t.SourceState, t.TargetState))
		}
		source, exists := mb.states[t.SourceState]
		if !exists {
			return NewConfigurationError("transition",
				fmt.Sprintf("source state '%s' does not exist", t.SourceState))
		}
		if _, exists := mb.states[t.TargetState]; !exists {
			return NewConfigurationError("transition",
				fmt.Sprintf("target state '%s' does not exist", t.TargetState))
		}
		if source.final {
			return NewConfigurationError("transition",
				fmt.Sprintf("final state '%s' cannot have outgoing transition on '%s'", t.SourceState, t.EventName))
		}
	}
	return nil
}

func (mb *machineBuilderImpl) addTransition(source, target Status) *transitionBuilderImpl {
	t := NewTransition(source, target, "")
	mb.transitions = append(mb.transitions, t)
	return &transitionBuilderImpl{machineBuilder: mb, transition: t}
}

type stateBuilderImpl struct {
	machineBuilder *machineBuilderImpl
	state          *stateConfig
}

// To creates a transition to another state
func (sb *stateBuilderImpl) To(target Status) TransitionBuilder {
	return sb.machineBuilder.addTransition(sb.state.status, target)
}

// ToSelf creates a self-transition
func (sb *stateBuilderImpl) ToSelf() TransitionBuilder {
	return sb.To(sb.state.status)
}

// OnEntry sets the entry action for the state
func (sb *stateBuilderImpl) OnEntry(action ActionFunc) StateBuilder {
	sb.state.entry = action
	return sb
}

// Final marks this state as final
func (sb *stateBuilderImpl) Final() StateBuilder {
	sb.state.final = true
	return sb
}

// Initial marks this state as the entry state of every application
func (sb *stateBuilderImpl) Initial() StateBuilder {
	sb.machineBuilder.initial = sb.state.status
	return sb
}

func (sb *stateBuilderImpl) State(status Status) StateBuilder {
	return sb.machineBuilder.State(status)
}

func (sb *stateBuilderImpl) Build() *Definition {
	return sb.machineBuilder.Build()
}

type transitionBuilderImpl struct {
	machineBuilder *machineBuilderImpl
	transition     *Transition
}

// On sets the event for this transition
func (tb *transitionBuilderImpl) On(event string) TransitionBuilder {
	tb.transition.EventName = event
	return tb
}

// When adds a guard condition
func (tb *transitionBuilderImpl) When(guard GuardFunc) TransitionBuilder {
	tb.transition.Guard = guard
	return tb
}

// WhenNamed adds a guard condition that is reported by name on rejection
func (tb *transitionBuilderImpl) WhenNamed(name string, guard GuardFunc) TransitionBuilder {
	tb.transition.WithGuard(name, guard)
	return tb
}

// Unless adds a negated guard condition
func (tb *transitionBuilderImpl) Unless(guard GuardFunc) TransitionBuilder {
	tb.transition.Guard = func(ctx *Context) bool {
		return !guard(ctx)
	}
	return tb
}

// Do sets the transition action
func (tb *transitionBuilderImpl) Do(action ActionFunc) TransitionBuilder {
	tb.transition.Action = action
	return tb
}

// To creates another transition from the same source state
func (tb *transitionBuilderImpl) To(target Status) TransitionBuilder {
	return tb.machineBuilder.addTransition(tb.transition.SourceState, target)
}

// ToSelf creates a self-transition from the same source state
func (tb *transitionBuilderImpl) ToSelf() TransitionBuilder {
	return tb.To(tb.transition.SourceState)
}

func (tb *transitionBuilderImpl) State(status Status) StateBuilder {
	return tb.machineBuilder.State(status)
}

func (tb *transitionBuilderImpl) Build() *Definition {
	return tb.machineBuilder.Build()
}
