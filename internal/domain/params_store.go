package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// InMemoryParamsStore keeps snapshots in process memory.
type InMemoryParamsStore struct {
	mu        sync.RWMutex
	snapshots []*ParamsSnapshot
}

// NewInMemoryParamsStore creates an empty in-memory store.
func NewInMemoryParamsStore() *InMemoryParamsStore {
	return &InMemoryParamsStore{
		mu:        sync.RWMutex{},
		snapshots: make([]*ParamsSnapshot, 0),
	}
}

// Save appends a snapshot.
func (s *InMemoryParamsStore) Save(_ context.Context, snap *ParamsSnapshot) error {
	if snap == nil {
		return errors.New("snapshot cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots = append(s.snapshots, snap)
	return nil
}

// Latest returns the last saved snapshot.
func (s *InMemoryParamsStore) Latest(_ context.Context) (*ParamsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

// Get returns the snapshot saved under runID.
func (s *InMemoryParamsStore) Get(_ context.Context, runID string) (*ParamsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.snapshots {
		if snap.RunID.String() == runID {
			return snap, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, runID)
}

// List returns the saved run ids in insertion order.
func (s *InMemoryParamsStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		ids = append(ids, snap.RunID.String())
	}
	return ids, nil
}
