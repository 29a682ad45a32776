package admitflow

import (
	"fmt"
	"sync"
)

// Observer is notified of every committed status transition
type Observer interface {
	// OnTransition is called after the status changed
	OnTransition(from, to Status, event *Event, ctx *Context)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver interface {
	Observer

	// OnGuardEvaluation is called when a guard condition is evaluated
	OnGuardEvaluation(from, to Status, event *Event, result bool, ctx *Context)

	// OnEventRejected is called when an event is rejected (no valid transition)
	OnEventRejected(event *Event, reason string, ctx *Context)

	// OnError is called when an error occurs during processing
	OnError(err error, ctx *Context)

	// OnActionExecution is called before a transition action runs
	OnActionExecution(from, to Status, event *Event, ctx *Context)
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver struct{}

// OnTransition implements the required Observer method
func (o *BaseObserver) OnTransition(from, to Status, event *Event, ctx *Context) {}

// OnGuardEvaluation implements the optional ExtendedObserver method
func (o *BaseObserver) OnGuardEvaluation(from, to Status, event *Event, result bool, ctx *Context) {
}

// OnEventRejected implements the optional ExtendedObserver method
func (o *BaseObserver) OnEventRejected(event *Event, reason string, ctx *Context) {}

// OnError implements the optional ExtendedObserver method
func (o *BaseObserver) OnError(err error, ctx *Context) {}

// OnActionExecution implements the optional ExtendedObserver method
func (o *BaseObserver) OnActionExecution(from, to Status, event *Event, ctx *Context) {}

// ObserverManager manages a collection of observers. A panicking observer
// never breaks a transition.
type ObserverManager struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewObserverManager creates a new observer manager
func NewObserverManager() *ObserverManager {
	return &ObserverManager{
		observers: make([]Observer, 0),
	}
}

// AddObserver adds an observer to the manager
func (om *ObserverManager) AddObserver(observer Observer) {
	om.mu.Lock()
	defer om.mu.Unlock()
	om.observers = append(om.observers, observer)
}

// RemoveObserver removes an observer from the manager
func (om *ObserverManager) RemoveObserver(observer Observer) {
	om.mu.Lock()
	defer om.mu.Unlock()
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered observers
func (om *ObserverManager) Len() int {
	om.mu.RLock()
	defer om.mu.RUnlock()
	return len(om.observers)
}

func (om *ObserverManager) snapshot() []Observer {
	om.mu.RLock()
	defer om.mu.RUnlock()
	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)
	return observers
}

func (om *ObserverManager) guarded(observer Observer, hook string, ctx *Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if extObs, ok := observer.(ExtendedObserver); ok {
				func() {
					defer func() { recover() }()
					extObs.OnError(fmt.Errorf("observer panic in %s: %v", hook, r), ctx)
				}()
			}
		}
	}()
	fn()
}

// NotifyTransition notifies all observers of a status transition
func (om *ObserverManager) NotifyTransition(from, to Status, event *Event, ctx *Context) {
	for _, observer := range om.snapshot() {
		observer := observer
		om.guarded(observer, "OnTransition", ctx, func() {
			observer.OnTransition(from, to, event, ctx)
		})
	}
}

// NotifyGuardEvaluation notifies all observers of guard evaluation
func (om *ObserverManager) NotifyGuardEvaluation(from, to Status, event *Event, result bool, ctx *Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			om.guarded(observer, "OnGuardEvaluation", ctx, func() {
				extObs.OnGuardEvaluation(from, to, event, result, ctx)
			})
		}
	}
}

// NotifyEventRejected notifies all observers of event rejection
func (om *ObserverManager) NotifyEventRejected(event *Event, reason string, ctx *Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			om.guarded(observer, "OnEventRejected", ctx, func() {
				extObs.OnEventRejected(event, reason, ctx)
			})
		}
	}
}

// NotifyError notifies all observers of errors
func (om *ObserverManager) NotifyError(err error, ctx *Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			func() {
				defer func() { recover() }()
				extObs.OnError(err, ctx)
			}()
		}
	}
}

// NotifyActionExecution notifies all observers of action execution
func (om *ObserverManager) NotifyActionExecution(from, to Status, event *Event, ctx *Context) {
	for _, observer := range om.snapshot() {
		if extObs, ok := observer.(ExtendedObserver); ok {
			om.guarded(observer, "OnActionExecution", ctx, func() {
				extObs.OnActionExecution(from, to, event, ctx)
			})
		}
	}
}
