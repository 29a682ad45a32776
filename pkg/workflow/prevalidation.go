package workflow

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/validation"
)

// SystemActor is recorded on transitions the engine makes on its own
const SystemActor = "system"

// PreValidationReport summarises one pre-validation run
type PreValidationReport struct {
	ApplicationID string
	Passed        bool
	Status        admitflow.Status
	Reviewer      string
	// Reasons aggregates the hard reasons of every failing document
	Reasons  []string
	Outcomes []validation.Outcome
}

// PerformPreValidation validates every document of an application in
// PRE_VALIDATION. If all pass a reviewer is assigned and the application
// moves to MANUAL_REVIEW; otherwise it is REJECTED. When no reviewer is
// available the error is *admitflow.NoEligibleAgentError, the status stays
// PRE_VALIDATION and the application is flagged as blocked. If the
// application changes while its documents are being validated nothing is
// written and *admitflow.ConcurrentModificationError is returned; the next
// run starts over.
func (s *Service) PerformPreValidation(ctx context.Context, applicationID string) (*PreValidationReport, error) {
	app, err := s.repo.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != admitflow.StatusPreValidation {
		err := admitflow.NewNoTransitionError(app.Status, admitflow.EventPreValidationPassed)
		s.logFailure(ctx, applicationID, admitflow.EventPreValidationPassed, err)
		return nil, err
	}

	outcomes, err := s.validateAll(ctx, app)
	if err != nil {
		s.logFailure(ctx, applicationID, admitflow.EventPreValidationPassed, err)
		return nil, err
	}

	report := &PreValidationReport{ApplicationID: applicationID, Passed: true, Outcomes: outcomes}
	for _, o := range outcomes {
		if !o.Passed {
			report.Passed = false
			report.Reasons = appendUnique(report.Reasons, validation.ReasonStrings(o.HardReasons())...)
		}
	}

	if !report.Passed {
		event := admitflow.NewEvent(admitflow.EventPreValidationFailed).
			WithActor(SystemActor).
			WithReasons(report.Reasons...)
		updated, err := s.fire(ctx, applicationID, event, unchangedSince(app, applyOutcomes(outcomes)))
		if err != nil {
			return nil, err
		}
		report.Status = updated.Status
		return report, nil
	}

	reviewer, err := s.assigner.Assign(ctx, applicationID)
	if err != nil {
		if !errors.Is(err, admitflow.ErrNoEligibleAgent) {
			s.logFailure(ctx, applicationID, admitflow.EventPreValidationPassed, err)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "no eligible reviewer, application blocked",
			slog.String("application_id", applicationID),
			slog.String("error", err.Error()))
		if _, uerr := s.flagBlocked(ctx, app, outcomes); uerr != nil {
			return nil, errors.Join(err, uerr)
		}
		return nil, err
	}

	event := admitflow.NewEvent(admitflow.EventPreValidationPassed).
		WithActor(SystemActor).
		WithData(reviewer)
	updated, err := s.fire(ctx, applicationID, event, unchangedSince(app, applyOutcomes(outcomes)))
	if err != nil {
		return nil, err
	}
	report.Status = updated.Status
	report.Reviewer = updated.AssignedReviewer
	return report, nil
}

// validateAll reads and validates every document concurrently and returns
// once all have finished
func (s *Service) validateAll(ctx context.Context, app *admitflow.Application) ([]validation.Outcome, error) {
	if len(app.Documents) == 0 {
		return []validation.Outcome{validation.MissingDocuments(app.ID)}, nil
	}

	outcomes := make([]validation.Outcome, len(app.Documents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i := range app.Documents {
		doc := app.Documents[i]
		g.Go(func() error {
			raw, err := s.documents.Read(gctx, doc.FilePath)
			if err != nil {
				return err
			}
			outcome, err := s.validator.Validate(gctx, &doc, raw, doc.Kind)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// applyOutcomes writes each outcome onto its document. Failing documents
// are rejected; soft reasons stay on passing ones.
func applyOutcomes(outcomes []validation.Outcome) func(*admitflow.Application) error {
	return func(app *admitflow.Application) error {
		for _, o := range outcomes {
			if o.DocumentID == "" {
				continue
			}
			doc, ok := app.Document(o.DocumentID)
			if !ok {
				continue
			}
			doc.Reasons = o.Strings()
			doc.OCRNotes = o.Summary()
			if !o.Passed {
				doc.ValidationStatus = admitflow.ValidationRejected
			}
		}
		return nil
	}
}

// unchangedSince wraps mutate so it only runs on the same version of the
// application the outcomes were computed from
func unchangedSince(snapshot *admitflow.Application, mutate func(*admitflow.Application) error) func(*admitflow.Application) error {
	return func(app *admitflow.Application) error {
		if app.Version != snapshot.Version {
			return &admitflow.ConcurrentModificationError{
				ApplicationID: snapshot.ID,
				Expected:      snapshot.Version,
				Actual:        app.Version,
			}
		}
		return mutate(app)
	}
}

func (s *Service) flagBlocked(ctx context.Context, snapshot *admitflow.Application, outcomes []validation.Outcome) (*admitflow.Application, error) {
	record := unchangedSince(snapshot, applyOutcomes(outcomes))
	return s.repo.Update(ctx, snapshot.ID, func(app *admitflow.Application) error {
		if app.Status != admitflow.StatusPreValidation {
			return admitflow.NewNoTransitionError(app.Status, admitflow.EventPreValidationPassed)
		}
		if err := record(app); err != nil {
			return err
		}
		if app.BlockedReason == "" {
			app.BlockedReason = admitflow.BlockedNoEligibleAgent
		}
		if app.BlockedSince == nil {
			now := s.clock.Now()
			app.BlockedSince = &now
		}
		return nil
	})
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// PreValidatePending runs pre-validation for every application waiting in
// PRE_VALIDATION and returns how many left it. Applications still without a
// reviewer, or changed during their run, stay where they are and are retried
// on the next call.
func (s *Service) PreValidatePending(ctx context.Context) (int, error) {
	apps, err := s.repo.ListByStatus(ctx, admitflow.StatusPreValidation)
	if err != nil {
		return 0, err
	}

	var (
		moved int
		errs  []error
	)
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		_, err := s.PerformPreValidation(ctx, app.ID)
		switch {
		case err == nil:
			moved++
		case errors.Is(err, admitflow.ErrNoEligibleAgent),
			errors.Is(err, admitflow.ErrInvalidTransition),
			errors.Is(err, admitflow.ErrConcurrentModification):
			// logged by PerformPreValidation
		default:
			errs = append(errs, err)
		}
	}
	return moved, errors.Join(errs...)
}
