// Package assignment picks the reviewing agent for an application.
package assignment

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/anggasct/admitflow"
	"github.com/anggasct/admitflow/pkg/identity"
)

// Selector chooses one agent from a non-empty pool
type Selector interface {
	Select(pool []admitflow.Agent) admitflow.Agent
}

// SelectorFunc adapts a function to Selector
type SelectorFunc func(pool []admitflow.Agent) admitflow.Agent

func (f SelectorFunc) Select(pool []admitflow.Agent) admitflow.Agent {
	return f(pool)
}

// RandomSelector picks uniformly at random
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector creates a selector with a fixed seed, which makes the
// sequence of picks reproducible
func NewRandomSelector(seed uint64) *RandomSelector {
	return &RandomSelector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeededSelector seeds from the wall clock
func NewTimeSeededSelector() *RandomSelector {
	return NewRandomSelector(uint64(time.Now().UnixNano()))
}

func (s *RandomSelector) Select(pool []admitflow.Agent) admitflow.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.rng.IntN(len(pool))]
}

// RoundRobinSelector cycles through the pool in order
type RoundRobinSelector struct {
	mu   sync.Mutex
	next int
}

func (s *RoundRobinSelector) Select(pool []admitflow.Agent) admitflow.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := pool[s.next%len(pool)]
	s.next++
	return a
}

// Policy assigns reviewers from the directory's eligible pool
type Policy struct {
	directory identity.Directory
	selector  Selector
	logger    *slog.Logger
}

// Option configures a Policy
type Option func(*Policy)

// WithSelector replaces the default random selector
func WithSelector(s Selector) Option {
	return func(p *Policy) { p.selector = s }
}

// WithLogger sets the policy logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

// NewPolicy creates a policy over directory
func NewPolicy(directory identity.Directory, opts ...Option) *Policy {
	p := &Policy{
		directory: directory,
		selector:  NewTimeSeededSelector(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Assign returns the ID of the agent chosen for applicationID, or
// *admitflow.NoEligibleAgentError when nobody can review
func (p *Policy) Assign(ctx context.Context, applicationID string) (string, error) {
	agents, err := p.directory.EligibleAgents(ctx)
	if err != nil {
		return "", err
	}

	pool := agents[:0:0]
	for _, a := range agents {
		if a.Reviewer && a.ID != "" {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		return "", &admitflow.NoEligibleAgentError{ApplicationID: applicationID}
	}

	chosen := p.selector.Select(pool)
	p.logger.Debug("reviewer assigned",
		slog.String("application_id", applicationID),
		slog.String("agent_id", chosen.ID),
		slog.Int("pool_size", len(pool)))
	return chosen.ID, nil
}
