// Package workflow drives applications through their lifecycle: intake,
// automated pre-validation, reviewer assignment and review decisions.
package workflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/completion"
	"github.com/anggasct/admitflow/pkg/identity"
	"github.com/anggasct/admitflow/pkg/notify"
	"github.com/anggasct/admitflow/pkg/repository"
	"github.com/anggasct/admitflow/pkg/store"
	"github.com/anggasct/admitflow/pkg/validation"
)

// DocumentValidator runs the validation pipeline on one document
type DocumentValidator interface {
	Validate(ctx context.Context, doc *admitflow.Document, raw []byte, kind admitflow.DocumentKind) (validation.Outcome, error)
}

// Assigner picks the reviewer for an application
type Assigner interface {
	Assign(ctx context.Context, applicationID string) (string, error)
}

// Publisher accepts notifications once a change is committed
type Publisher interface {
	Enqueue(msg notify.Message)
}

// Dependencies are the collaborators a Service needs
type Dependencies struct {
	Repository repository.Store
	Documents  store.DocumentStore
	Validator  DocumentValidator
	Assigner   Assigner
	Directory  identity.Directory
	// Publisher may be nil, in which case nothing is sent
	Publisher Publisher
	// Machine defaults to admitflow.Lifecycle()
	Machine *admitflow.Definition
}

// Service is stateless; every operation reads and writes through the repository
type Service struct {
	repo       repository.Store
	documents  store.DocumentStore
	validator  DocumentValidator
	assigner   Assigner
	directory  identity.Directory
	publisher  Publisher
	machine    *admitflow.Definition
	completion *completion.Calculator
	clock      admitflow.Clock
	logger     *slog.Logger
	newID      func() string
	parallel   int
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock for the service and its lifecycle definition
func WithClock(clock admitflow.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithObserver registers an observer on the lifecycle definition
func WithObserver(observer admitflow.Observer) Option {
	return func(s *Service) { s.machine.AddObserver(observer) }
}

// WithCompletion replaces the default completion weights
func WithCompletion(calc *completion.Calculator) Option {
	return func(s *Service) { s.completion = calc }
}

// WithIDGenerator replaces uuid-based application and document ids
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithParallelism bounds concurrent reads and validations per application
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// New creates a Service
func New(deps Dependencies, opts ...Option) (*Service, error) {
	switch {
	case deps.Repository == nil:
		return nil, admitflow.NewConfigurationError("workflow", "repository is required")
	case deps.Documents == nil:
		return nil, admitflow.NewConfigurationError("workflow", "document store is required")
	case deps.Validator == nil:
		return nil, admitflow.NewConfigurationError("workflow", "validator is required")
	case deps.Assigner == nil:
		return nil, admitflow.NewConfigurationError("workflow", "assigner is required")
	case deps.Directory == nil:
		return nil, admitflow.NewConfigurationError("workflow", "directory is required")
	}

	machine := deps.Machine
	if machine == nil {
		machine = admitflow.Lifecycle()
	}
	s := &Service{
		repo:       deps.Repository,
		documents:  deps.Documents,
		validator:  deps.Validator,
		assigner:   deps.Assigner,
		directory:  deps.Directory,
		publisher:  deps.Publisher,
		machine:    machine,
		completion: completion.New(completion.DefaultWeights),
		clock:      admitflow.SystemClock{},
		logger:     slog.Default(),
		newID:      uuid.NewString,
		parallel:   4,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine.SetClock(s.clock)
	return s, nil
}

// Machine returns the lifecycle definition the service fires events through
func (s *Service) Machine() *admitflow.Definition {
	return s.machine
}

// Get loads an application
func (s *Service) Get(ctx context.Context, applicationID string) (*admitflow.Application, error) {
	return s.repo.Get(ctx, applicationID)
}

// fire applies event inside one atomic update. Observers and the candidate
// hear about the change only after commit. prepare runs before the event, on
// the same copy.
func (s *Service) fire(ctx context.Context, applicationID string, event *admitflow.Event, prepare repository.MutateFunc) (*admitflow.Application, error) {
	var change admitflow.StatusChange

	updated, err := s.repo.Update(ctx, applicationID, func(app *admitflow.Application) error {
		if prepare != nil {
			if err := prepare(app); err != nil {
				return err
			}
		}
		result := s.machine.Apply(ctx, app, event)
		if result.Error != nil {
			return result.Error
		}
		change = app.History[len(app.History)-1]
		return nil
	})
	if err != nil {
		s.logFailure(ctx, applicationID, event.Name, err)
		return nil, err
	}
	s.machine.Announce(ctx, updated, event, change.From, change.To)

	s.logger.InfoContext(ctx, "application transitioned",
		slog.String("application_id", applicationID),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)),
		slog.String("event", event.Name))
	s.publish(ctx, updated, change)
	return updated, nil
}

func (s *Service) logFailure(ctx context.Context, applicationID, event string, err error) {
	level := slog.LevelError
	if admitflow.IsTransitionError(err) || errors.Is(err, admitflow.ErrNotFound) ||
		errors.Is(err, ErrInvalidRequest) || errors.Is(err, admitflow.ErrConcurrentModification) {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "application operation failed",
		slog.String("application_id", applicationID),
		slog.String("event", event),
		slog.String("error", err.Error()))
}

// publish composes and enqueues exactly one notification for change
func (s *Service) publish(ctx context.Context, app *admitflow.Application, change admitflow.StatusChange) {
	if s.publisher == nil {
		return
	}
	candidate, err := s.directory.Candidate(ctx, app.CandidateID)
	if err != nil {
		s.logger.WarnContext(ctx, "candidate lookup failed, sending in-app only",
			slog.String("application_id", app.ID),
			slog.String("candidate_id", app.CandidateID),
			slog.String("error", err.Error()))
		candidate = admitflow.Candidate{ID: app.CandidateID}
	}
	msg, err := notify.Compose(app, change, candidate)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to compose notification",
			slog.String("application_id", app.ID),
			slog.String("error", err.Error()))
		return
	}
	s.publisher.Enqueue(msg)
}
