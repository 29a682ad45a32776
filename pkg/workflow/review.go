package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anggasct/admitflow"
)

func (s *Service) decide(ctx context.Context, applicationID, eventName string, d Decision) (*admitflow.Application, error) {
	if err := validateRequest(d); err != nil {
		return nil, err
	}
	event := admitflow.NewEvent(eventName).
		WithActor(d.Actor).
		WithComment(d.Comment).
		WithReasons(d.Reasons...)
	return s.fire(ctx, applicationID, event, nil)
}

// ValidateByAgent records the reviewing agent's sign-off
func (s *Service) ValidateByAgent(ctx context.Context, applicationID string, d Decision) (*admitflow.Application, error) {
	return s.decide(ctx, applicationID, admitflow.EventAgentValidate, d)
}

// RequestChanges sends the application back to the candidate
func (s *Service) RequestChanges(ctx context.Context, applicationID string, d Decision) (*admitflow.Application, error) {
	return s.decide(ctx, applicationID, admitflow.EventRequestChanges, d)
}

// FinalApprove approves an agent-validated application
func (s *Service) FinalApprove(ctx context.Context, applicationID string, d Decision) (*admitflow.Application, error) {
	return s.decide(ctx, applicationID, admitflow.EventFinalApprove, d)
}

// Reject is the administrator's rejection
func (s *Service) Reject(ctx context.Context, applicationID string, d Decision) (*admitflow.Application, error) {
	return s.decide(ctx, applicationID, admitflow.EventAdminReject, d)
}

// Resubmit returns a CHANGES_REQUESTED application to pre-validation. The
// assigned reviewer and any blocked flag are cleared on the way.
func (s *Service) Resubmit(ctx context.Context, applicationID string, d Decision) (*admitflow.Application, error) {
	return s.decide(ctx, applicationID, admitflow.EventResubmit, d)
}

// Block parks an application in BLOCKED. An existing blocked reason is kept.
func (s *Service) Block(ctx context.Context, applicationID, reason string) (*admitflow.Application, error) {
	event := admitflow.NewEvent(admitflow.EventBlock).WithActor(SystemActor)
	if reason != "" {
		event.WithReasons(reason)
	}
	return s.fire(ctx, applicationID, event, nil)
}

// Unblock sends a BLOCKED application back to pre-validation
func (s *Service) Unblock(ctx context.Context, applicationID string, d Decision) (*admitflow.Application, error) {
	return s.decide(ctx, applicationID, admitflow.EventUnblock, d)
}

// AggregateEvent derives the lifecycle event implied by the documents'
// validation statuses
func AggregateEvent(docs []admitflow.Document) string {
	validated := len(docs) > 0
	for _, d := range docs {
		switch d.ValidationStatus {
		case admitflow.ValidationRejected:
			return admitflow.EventDocumentRejected
		case admitflow.ValidationValidated:
		default:
			validated = false
		}
	}
	if validated {
		return admitflow.EventDocumentsValidated
	}
	return admitflow.EventDocumentReviewed
}

// DecideDocument records a reviewer's decision on one document and moves the
// application if the aggregate of all decisions has an edge from its current
// status. Otherwise the decision is stored and the status is unchanged.
// Applications in a terminal status refuse decisions before any document is
// touched.
func (s *Service) DecideDocument(ctx context.Context, applicationID, documentID string, decision admitflow.ValidationStatus, notes, actor string) (*admitflow.Application, error) {
	if decision != admitflow.ValidationValidated && decision != admitflow.ValidationRejected {
		return nil, validateRequestError("decision must be VALIDATED or REJECTED")
	}
	if strings.TrimSpace(actor) == "" {
		return nil, validateRequestError("actor is required")
	}

	var (
		change  admitflow.StatusChange
		moved   bool
		aggName string
		event   *admitflow.Event
	)
	updated, err := s.repo.Update(ctx, applicationID, func(app *admitflow.Application) error {
		if s.machine.IsFinal(app.Status) {
			return admitflow.NewNoTransitionError(app.Status, AggregateEvent(app.Documents))
		}
		doc, ok := app.Document(documentID)
		if !ok {
			return admitflow.NewNotFoundError("document", documentID)
		}
		doc.ValidationStatus = decision
		if notes != "" {
			if doc.OCRNotes != "" {
				doc.OCRNotes += "; "
			}
			doc.OCRNotes += notes
		}
		app.LastUpdated = s.clock.Now()

		aggName = AggregateEvent(app.Documents)
		event = admitflow.NewEvent(aggName).WithActor(actor).WithComment(notes)
		if !s.machine.Can(app, event) {
			return nil
		}
		result := s.machine.Apply(ctx, app, event)
		if result.Error != nil {
			return result.Error
		}
		change = app.History[len(app.History)-1]
		moved = true
		return nil
	})
	if err != nil {
		s.logFailure(ctx, applicationID, aggName, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "document decided",
		slog.String("application_id", applicationID),
		slog.String("document_id", documentID),
		slog.String("decision", string(decision)),
		slog.String("event", aggName),
		slog.Bool("status_changed", moved))
	if moved {
		s.machine.Announce(ctx, updated, event, change.From, change.To)
		s.publish(ctx, updated, change)
	}
	return updated, nil
}

func validateRequestError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
