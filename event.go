package admitflow

import (
	"time"
)

// Lifecycle event names
const (
	EventSubmitted           = "submitted"
	EventPreValidationPassed = "prevalidation_passed"
	EventPreValidationFailed = "prevalidation_failed"
	EventAgentValidate       = "agent_validate"
	EventRequestChanges      = "request_changes"
	EventFinalApprove        = "final_approve"
	EventAdminReject         = "admin_reject"
	EventDocumentRejected    = "document_rejected"
	EventDocumentsValidated  = "documents_validated"
	EventDocumentReviewed    = "document_reviewed"
	EventResubmit            = "resubmit"
	EventBlock               = "block"
	EventUnblock             = "unblock"
)

// Event is a trigger for a status transition
type Event struct {
	Name      string
	Actor     string
	Comment   string
	Reasons   []string
	Data      any
	Timestamp time.Time
	Metadata  map[string]any
}

// NewEvent creates a new event
func NewEvent(name string) *Event {
	return &Event{
		Name:      name,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// WithActor records who triggered the event
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithComment attaches a human comment that is forwarded to the notification
func (e *Event) WithComment(comment string) *Event {
	e.Comment = comment
	return e
}

// WithReasons attaches machine reasons (validation failures)
func (e *Event) WithReasons(reasons ...string) *Event {
	e.Reasons = append(e.Reasons, reasons...)
	return e
}

// WithData attaches event data available to guards and actions
func (e *Event) WithData(data any) *Event {
	e.Data = data
	return e
}

// GetMetadata returns a copy of the event metadata
func (e *Event) GetMetadata() map[string]any {
	result := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		result[k] = v
	}
	return result
}

// EventResult represents the result of processing an event
type EventResult struct {
	Processed       bool
	StateChanged    bool
	PreviousState   Status
	CurrentState    Status
	Error           error
	RejectionReason string
}

// NewEventResult creates a new event result
func NewEventResult(processed, stateChanged bool, prevState, currentState Status) *EventResult {
	return &EventResult{
		Processed:     processed,
		StateChanged:  stateChanged,
		PreviousState: prevState,
		CurrentState:  currentState,
	}
}

// WithError adds an error to the event result
func (r *EventResult) WithError(err error) *EventResult {
	r.Error = err
	return r
}

// WithRejection adds a rejection reason to the event result
func (r *EventResult) WithRejection(reason string) *EventResult {
	r.RejectionReason = reason
	r.Processed = false
	return r
}

// Success returns true if the event was processed successfully
func (r *EventResult) Success() bool {
	return r.Processed && r.Error == nil
}
