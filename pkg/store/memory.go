package store

import (
	"context"
	"sync"

	"github.com/anggasct/admitflow"
)

// MemoryStore keeps documents in memory. It is meant for tests and demos.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailWrite, when set, is consulted before every write; a non-nil
	// result fails the write
	FailWrite func(suggestedName string) error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Store(ctx context.Context, data []byte, suggestedName string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, admitflow.NewStorageError("write", "", err)
	}
	if s.FailWrite != nil {
		if err := s.FailWrite(suggestedName); err != nil {
			return Object{}, admitflow.NewStorageError("write", suggestedName, err)
		}
	}

	name := objectName(suggestedName)
	s.mu.Lock()
	s.objects[name] = append([]byte(nil), data...)
	s.mu.Unlock()

	return Object{Path: name, Hash: HashBytes(data), Size: int64(len(data))}, nil
}

func (s *MemoryStore) Read(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, admitflow.NewNotFoundError("document", path)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
