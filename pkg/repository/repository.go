// Package repository persists applications and the content-hash claims
// used for duplicate detection.
package repository

import (
	"context"
	"fmt"

	"github.com/anggasct/admitflow"
)

// MutateFunc changes an application inside an atomic update. Returning an
// error aborts the update and nothing is written.
type MutateFunc func(app *admitflow.Application) error

// Repository stores applications. Every Update is a single atomic
// read-modify-write that bumps Version.
type Repository interface {
	// Create inserts a new application. A candidate may only have one
	// application that is not APPROVED or REJECTED.
	Create(ctx context.Context, app *admitflow.Application) error
	Get(ctx context.Context, id string) (*admitflow.Application, error)
	Update(ctx context.Context, id string, mutate MutateFunc) (*admitflow.Application, error)
	// FindActiveByCandidate returns the candidate's non-terminal application
	FindActiveByCandidate(ctx context.Context, candidateID string) (*admitflow.Application, error)
	ListByStatus(ctx context.Context, status admitflow.Status) ([]*admitflow.Application, error)
}

// ContentIndex records which application first submitted a content hash
type ContentIndex interface {
	// ClaimContent records applicationID as owner of hash. When another
	// application already owns it *admitflow.DuplicateContentError is
	// returned; claiming one's own hash again succeeds.
	ClaimContent(ctx context.Context, hash, applicationID string) error
	ContentOwner(ctx context.Context, hash string) (string, bool, error)
	// ReleaseContent drops the claim if applicationID owns it
	ReleaseContent(ctx context.Context, hash, applicationID string) error
}

// Store is what the workflow service persists through
type Store interface {
	Repository
	ContentIndex
}

func activeApplicationError(candidateID string) error {
	return fmt.Errorf("candidate '%s': %w", candidateID, admitflow.ErrActiveApplication)
}

func alreadyExistsError(id string) error {
	return fmt.Errorf("application '%s' already exists", id)
}
