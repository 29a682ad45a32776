package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/anggasct/admitflow"
)

// MemoryRepository keeps everything in process. A single mutex serialises
// updates, which makes each Update atomic.
type MemoryRepository struct {
	mu     sync.Mutex
	apps   map[string]*admitflow.Application
	claims map[string]string
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		apps:   make(map[string]*admitflow.Application),
		claims: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, app *admitflow.Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.apps[app.ID]; exists {
		return alreadyExistsError(app.ID)
	}
	if !app.Status.IsTerminal() {
		for _, other := range r.apps {
			if other.CandidateID == app.CandidateID && !other.Status.IsTerminal() {
				return activeApplicationError(app.CandidateID)
			}
		}
	}

	stored := app.Clone()
	stored.Version = 1
	r.apps[app.ID] = stored
	app.Version = 1
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*admitflow.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return nil, admitflow.NewNotFoundError("application", id)
	}
	return app.Clone(), nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, mutate MutateFunc) (*admitflow.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.apps[id]
	if !ok {
		return nil, admitflow.NewNotFoundError("application", id)
	}

	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	if working.Version != current.Version {
		return nil, &admitflow.ConcurrentModificationError{
			ApplicationID: id,
			Expected:      current.Version,
			Actual:        working.Version,
		}
	}
	working.ID = id
	working.Version = current.Version + 1
	r.apps[id] = working
	return working.Clone(), nil
}

func (r *MemoryRepository) FindActiveByCandidate(ctx context.Context, candidateID string) (*admitflow.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, app := range r.apps {
		if app.CandidateID == candidateID && !app.Status.IsTerminal() {
			return app.Clone(), nil
		}
	}
	return nil, admitflow.NewNotFoundError("active application for candidate", candidateID)
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status admitflow.Status) ([]*admitflow.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*admitflow.Application
	for _, app := range r.apps {
		if app.Status == status {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) ClaimContent(ctx context.Context, hash, applicationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.claims[hash]
	if !ok {
		r.claims[hash] = applicationID
		return nil
	}
	if owner != applicationID {
		return &admitflow.DuplicateContentError{Hash: hash, OwnerApplicationID: owner, ApplicationID: applicationID}
	}
	return nil
}

func (r *MemoryRepository) ContentOwner(ctx context.Context, hash string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.claims[hash]
	return owner, ok, nil
}

func (r *MemoryRepository) ReleaseContent(ctx context.Context, hash, applicationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[hash] == applicationID {
		delete(r.claims, hash)
	}
	return nil
}
