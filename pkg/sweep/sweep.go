// Package sweep moves applications that stalled in pre-validation to BLOCKED
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anggasct/admitflow"
)

// DefaultThreshold is how long an application may sit in pre-validation
const DefaultThreshold = 48 * time.Hour

// Lister finds applications by status
type Lister interface {
	ListByStatus(ctx context.Context, status admitflow.Status) ([]*admitflow.Application, error)
}

// Blocker fires the block event. An empty reason keeps any reason already
// recorded on the application.
type Blocker interface {
	Block(ctx context.Context, applicationID, reason string) (*admitflow.Application, error)
}

// Sweeper blocks applications stalled in PRE_VALIDATION
type Sweeper struct {
	apps      Lister
	blocker   Blocker
	threshold time.Duration
	clock     admitflow.Clock
	logger    *slog.Logger
}

// Option configures a Sweeper
type Option func(*Sweeper)

// WithThreshold sets how old an application must be before it is blocked
func WithThreshold(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// WithClock sets the clock
func WithClock(clock admitflow.Clock) Option {
	return func(s *Sweeper) { s.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// New creates a Sweeper
func New(apps Lister, blocker Blocker, opts ...Option) *Sweeper {
	s := &Sweeper{
		apps:      apps,
		blocker:   blocker,
		threshold: DefaultThreshold,
		clock:     admitflow.SystemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result reports one sweep
type Result struct {
	Scanned int
	Blocked []string
	Failed  int
}

// stalledSince is when the application stopped making progress
func stalledSince(app *admitflow.Application) time.Time {
	if app.BlockedSince != nil {
		return *app.BlockedSince
	}
	return app.LastUpdated
}

// Sweep blocks every PRE_VALIDATION application that has not progressed for
// the threshold. Applications that moved on in the meantime are skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	apps, err := s.apps.ListByStatus(ctx, admitflow.StatusPreValidation)
	if err != nil {
		return Result{}, err
	}

	now := s.clock.Now()
	result := Result{Scanned: len(apps)}
	for _, app := range apps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if now.Sub(stalledSince(app)) < s.threshold {
			continue
		}

		_, err := s.blocker.Block(ctx, app.ID, "")
		switch {
		case err == nil:
			result.Blocked = append(result.Blocked, app.ID)
		case errors.Is(err, admitflow.ErrInvalidTransition):
			s.logger.DebugContext(ctx, "application moved before sweep",
				slog.String("application_id", app.ID))
		default:
			result.Failed++
			s.logger.ErrorContext(ctx, "failed to block stalled application",
				slog.String("application_id", app.ID),
				slog.String("error", err.Error()))
		}
	}

	if len(result.Blocked) > 0 || result.Failed > 0 {
		s.logger.InfoContext(ctx, "stalled applications swept",
			slog.Int("scanned", result.Scanned),
			slog.Int("blocked", len(result.Blocked)),
			slog.Int("failed", result.Failed),
			slog.Duration("threshold", s.threshold))
	}
	return result, nil
}
