package admitflow

import (
	"errors"
	"fmt"
)

// ErrorCode represents specific error conditions in the workflow
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// Transition is not allowed from current status
	ErrCodeTransitionNotAllowed
	// Guard condition rejected the transition
	ErrCodeGuardRejected
	// Action execution failed
	ErrCodeActionFailed
	// Machine configuration is invalid
	ErrCodeInvalidConfiguration
	// No reviewer could be assigned
	ErrCodeNoEligibleAgent
	// Blob store failure
	ErrCodeStorage
	// Application, document or stored object does not exist
	ErrCodeNotFound
	// Content already owned by another application
	ErrCodeDuplicateContent
	// Concurrent modification detected
	ErrCodeConcurrentModification
	// Candidate already has an application in progress
	ErrCodeActiveApplication
)

// Sentinel errors for errors.Is matching. The structured errors below
// match their sentinel through Is.
var (
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrNoEligibleAgent        = errors.New("no eligible agent")
	ErrStorage                = errors.New("storage failure")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateContent       = errors.New("duplicate content")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrActiveApplication      = errors.New("candidate already has an active application")
)

// TransitionError represents transition-related errors
type TransitionError struct {
	Code   ErrorCode
	From   Status
	To     Status
	Event  string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("transition error [%s->%s on %s]: %s", e.From, e.To, e.Event, e.Reason)
	}
	return fmt.Sprintf("transition error [%s on %s]: %s", e.From, e.Event, e.Reason)
}

// Is matches ErrInvalidTransition
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewNoTransitionError creates a new no transition found error
func NewNoTransitionError(from Status, event string) *TransitionError {
	return &TransitionError{
		Code:   ErrCodeTransitionNotAllowed,
		From:   from,
		Event:  event,
		Reason: fmt.Sprintf("no transition from status '%s' for event '%s'", from, event),
	}
}

// NewGuardRejectedError creates a transition error for a guard that refused every candidate edge
func NewGuardRejectedError(from, to Status, event, guard string) *TransitionError {
	reason := "guard rejected transition"
	if guard != "" {
		reason = fmt.Sprintf("guard '%s' rejected transition", guard)
	}
	return &TransitionError{
		Code:   ErrCodeGuardRejected,
		From:   from,
		To:     to,
		Event:  event,
		Reason: reason,
	}
}

// ConfigurationError represents machine configuration issues
type ConfigurationError struct {
	Component string
	Issue     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Issue)
}

// Is matches ErrInvalidConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(component, issue string) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Issue:     issue,
	}
}

// ActionError represents action execution errors
type ActionError struct {
	Event       string
	State       Status
	OriginalErr error
}

func (e *ActionError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("action for '%s' failed in status '%s': %v", e.Event, e.State, e.OriginalErr)
	}
	return fmt.Sprintf("action for '%s' failed in status '%s'", e.Event, e.State)
}

func (e *ActionError) Unwrap() error {
	return e.OriginalErr
}

// NewActionError creates a new action execution error
func NewActionError(event string, state Status, err error) *ActionError {
	return &ActionError{
		Event:       event,
		State:       state,
		OriginalErr: err,
	}
}

// NoEligibleAgentError is returned when the reviewer pool is empty
type NoEligibleAgentError struct {
	ApplicationID string
}

func (e *NoEligibleAgentError) Error() string {
	return fmt.Sprintf("no eligible agent for application '%s'", e.ApplicationID)
}

// Is matches ErrNoEligibleAgent
func (e *NoEligibleAgentError) Is(target error) bool {
	return target == ErrNoEligibleAgent
}

// StorageError wraps a blob store failure
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s '%s': %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Is matches ErrStorage
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{Op: op, Path: path, Err: err}
}

// NotFoundError reports a missing resource
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
}

// Is matches ErrNotFound
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// DuplicateContentError reports bytes already claimed by another application
type DuplicateContentError struct {
	Hash               string
	OwnerApplicationID string
	ApplicationID      string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("content %s of application '%s' already belongs to application '%s'",
		shortHash(e.Hash), e.ApplicationID, e.OwnerApplicationID)
}

// Is matches ErrDuplicateContent
func (e *DuplicateContentError) Is(target error) bool {
	return target == ErrDuplicateContent
}

// ConcurrentModificationError is returned when an update lost a version race
type ConcurrentModificationError struct {
	ApplicationID string
	Expected      int
	Actual        int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("application '%s' was modified concurrently (expected version %d, found %d)",
		e.ApplicationID, e.Expected, e.Actual)
}

// Is matches ErrConcurrentModification
func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// IsGuardError checks if an error is a guard rejection
func IsGuardError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te) && te.Code == ErrCodeGuardRejected
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsActionError checks if an error is an ActionError
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	var (
		te *TransitionError
		ce *ConfigurationError
		ae *ActionError
		ne *NoEligibleAgentError
		se *StorageError
		nf *NotFoundError
		de *DuplicateContentError
		cm *ConcurrentModificationError
	)
	switch {
	case err == nil:
		return ErrCodeNone
	case errors.As(err, &te):
		return te.Code
	case errors.As(err, &ne):
		return ErrCodeNoEligibleAgent
	case errors.As(err, &de):
		return ErrCodeDuplicateContent
	case errors.As(err, &cm):
		return ErrCodeConcurrentModification
	case errors.As(err, &nf):
		return ErrCodeNotFound
	case errors.As(err, &se):
		return ErrCodeStorage
	case errors.As(err, &ce):
		return ErrCodeInvalidConfiguration
	case errors.As(err, &ae):
		return ErrCodeActionFailed
	case errors.Is(err, ErrActiveApplication):
		return ErrCodeActiveApplication
	default:
		return ErrCodeNone
	}
}
