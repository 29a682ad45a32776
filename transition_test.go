package admitflow

import "testing"

func TestTransition_Creation(t *testing.T) {
	tr := NewTransition(StatusManualReview, StatusAgentValidated, EventAgentValidate)

	if tr.SourceState != StatusManualReview || tr.TargetState != StatusAgentValidated {
		t.Error("Expected source and target to be set")
	}
	if tr.EventName != EventAgentValidate {
		t.Errorf("Expected event %s, got %s", EventAgentValidate, tr.EventName)
	}
	if tr.Guard != nil || tr.Action != nil {
		t.Error("Expected no guard or action by default")
	}
}

func TestTransition_WithGuardAndAction(t *testing.T) {
	called := false
	tr := NewTransition(StatusPending, StatusApproved, EventDocumentsValidated).
		WithGuard("always", func(ctx *Context) bool { return true }).
		WithAction(func(ctx *Context) error {
			called = true
			return nil
		})

	if tr.GuardName != "always" || !tr.Guard(nil) {
		t.Error("Expected named guard")
	}
	if err := tr.Action(nil); err != nil || !called {
		t.Error("Expected action to run")
	}
}
