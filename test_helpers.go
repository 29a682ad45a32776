package admitflow

import (
	"sync"
	"testing"
	"time"
)

// TestObserver is a recording observer for tests. It captures every
// observer callback so assertions can inspect them afterwards.
type TestObserver struct {
	mutex        sync.RWMutex
	Transitions  []TransitionEvent
	EventRejects []EventRejectEvent
	Errors       []error
	Actions      []TransitionEvent
	Guards       []GuardEvent
}

type TransitionEvent struct {
	ApplicationID string
	From          Status
	To            Status
	Event         string
}

type EventRejectEvent struct {
	ApplicationID string
	Event         string
	Reason        string
}

type GuardEvent struct {
	From   Status
	To     Status
	Event  string
	Result bool
}

// NewTestObserver creates a new test observer
func NewTestObserver() *TestObserver {
	return &TestObserver{}
}

func applicationID(ctx *Context) string {
	if ctx == nil || ctx.Application() == nil {
		return ""
	}
	return ctx.Application().ID
}

func eventName(event *Event) string {
	if event == nil {
		return ""
	}
	return event.Name
}

func (o *TestObserver) OnTransition(from, to Status, event *Event, ctx *Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Transitions = append(o.Transitions, TransitionEvent{
		ApplicationID: applicationID(ctx), From: from, To: to, Event: eventName(event),
	})
}

func (o *TestObserver) OnGuardEvaluation(from, to Status, event *Event, result bool, ctx *Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Guards = append(o.Guards, GuardEvent{From: from, To: to, Event: eventName(event), Result: result})
}

func (o *TestObserver) OnEventRejected(event *Event, reason string, ctx *Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.EventRejects = append(o.EventRejects, EventRejectEvent{
		ApplicationID: applicationID(ctx), Event: eventName(event), Reason: reason,
	})
}

func (o *TestObserver) OnError(err error, ctx *Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Errors = append(o.Errors, err)
}

func (o *TestObserver) OnActionExecution(from, to Status, event *Event, ctx *Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Actions = append(o.Actions, TransitionEvent{
		ApplicationID: applicationID(ctx), From: from, To: to, Event: eventName(event),
	})
}

// Reset clears every recorded callback
func (o *TestObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Transitions = nil
	o.EventRejects = nil
	o.Errors = nil
	o.Actions = nil
	o.Guards = nil
}

func (o *TestObserver) TransitionCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Transitions)
}

func (o *TestObserver) RejectionCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.EventRejects)
}

func (o *TestObserver) LastTransition() *TransitionEvent {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if len(o.Transitions) == 0 {
		return nil
	}
	last := o.Transitions[len(o.Transitions)-1]
	return &last
}

// TestTime is the instant used by NewTestApplication and test clocks
var TestTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// NewTestApplication returns an application in the given status with one
// document per supplied validation status
func NewTestApplication(id string, status Status, docs ...ValidationStatus) *Application {
	app := &Application{
		ID:             id,
		CandidateID:    "cand-" + id,
		Status:         status,
		SubmissionDate: TestTime,
		LastUpdated:    TestTime,
	}
	for i, vs := range docs {
		app.Documents = append(app.Documents, Document{
			ID:               id + "-doc-" + string(rune('a'+i)),
			ApplicationID:    id,
			Name:             string(KindDiploma),
			Kind:             KindDiploma,
			FileType:         ".pdf",
			ValidationStatus: vs,
		})
	}
	return app
}

// AssertStatus checks the application status
func AssertStatus(t *testing.T, app *Application, expected Status) {
	t.Helper()
	if app.Status != expected {
		t.Errorf("Expected status %s, got %s", expected, app.Status)
	}
}

// AssertStateChanged checks if a status transition occurred
func AssertStateChanged(t *testing.T, result *EventResult, expectedPrevious, expectedCurrent Status) {
	t.Helper()
	if result.Error != nil {
		t.Errorf("Expected no error, got %v", result.Error)
	}
	if !result.StateChanged {
		t.Error("Expected state to change")
	}
	if result.PreviousState != expectedPrevious {
		t.Errorf("Expected previous state %s, got %s", expectedPrevious, result.PreviousState)
	}
	if result.CurrentState != expectedCurrent {
		t.Errorf("Expected current state %s, got %s", expectedCurrent, result.CurrentState)
	}
}

// AssertEventProcessed checks if event was processed successfully
func AssertEventProcessed(t *testing.T, result *EventResult, shouldProcess bool) {
	t.Helper()
	if result.Processed != shouldProcess {
		if shouldProcess {
			t.Errorf("Expected event to be processed, got error %v", result.Error)
		} else {
			t.Error("Expected event to be rejected")
		}
	}
}
