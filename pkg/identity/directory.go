// Package identity resolves candidates and review agents.
package identity

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/anggasct/admitflow"
)

// Directory is the read side of the user directory the engine needs
type Directory interface {
	Candidate(ctx context.Context, id string) (admitflow.Candidate, error)
	Agent(ctx context.Context, id string) (admitflow.Agent, error)
	// EligibleAgents returns every agent allowed to review, ordered by ID
	EligibleAgents(ctx context.Context) ([]admitflow.Agent, error)
}

// StaticDirectory is an in-memory directory
type StaticDirectory struct {
	mu         sync.RWMutex
	candidates map[string]admitflow.Candidate
	agents     map[string]admitflow.Agent
}

// NewStaticDirectory creates a directory seeded with agents
func NewStaticDirectory(agents ...admitflow.Agent) *StaticDirectory {
	d := &StaticDirectory{
		candidates: make(map[string]admitflow.Candidate),
		agents:     make(map[string]admitflow.Agent),
	}
	for _, a := range agents {
		d.agents[a.ID] = a
	}
	return d
}

// PutCandidate adds or replaces a candidate
func (d *StaticDirectory) PutCandidate(c admitflow.Candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.candidates[c.ID] = c
}

// PutAgent adds or replaces an agent
func (d *StaticDirectory) PutAgent(a admitflow.Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a
}

// RemoveAgent drops an agent from the pool
func (d *StaticDirectory) RemoveAgent(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.agents, id)
}

func (d *StaticDirectory) Candidate(ctx context.Context, id string) (admitflow.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.candidates[id]
	if !ok {
		return admitflow.Candidate{}, admitflow.NewNotFoundError("candidate", id)
	}
	return c, nil
}

func (d *StaticDirectory) Agent(ctx context.Context, id string) (admitflow.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return admitflow.Agent{}, admitflow.NewNotFoundError("agent", id)
	}
	return a, nil
}

func (d *StaticDirectory) EligibleAgents(ctx context.Context) ([]admitflow.Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []admitflow.Agent
	for _, a := range d.agents {
		if a.Reviewer {
			out = append(out, a)
		}
	}
	SortAgents(out)
	return out, nil
}

// SortAgents orders agents by ID
func SortAgents(agents []admitflow.Agent) {
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
}

// ContactName picks the best display name for a candidate
func ContactName(c admitflow.Candidate) string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return c.ID
}
