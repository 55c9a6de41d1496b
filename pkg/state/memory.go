package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/types"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. Nothing
// survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	labs   map[string]*types.Lab
	events map[string][]*types.Event
	closed bool
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		labs:   make(map[string]*types.Lab),
		events: make(map[string][]*types.Event),
	}
}

func (s *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) CreateLab(ctx context.Context, lab *types.Lab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	labCopy := *lab
	s.labs[lab.ID] = &labCopy
	return nil
}

func (s *MemoryStore) GetLab(ctx context.Context, labID string) (*types.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	lab, ok := s.labs[labID]
	if !ok {
		return nil, fmt.Errorf("lab %q: %w", labID, laberrors.ErrLabNotFound)
	}
	labCopy := *lab
	return &labCopy, nil
}

func (s *MemoryStore) UpdateLab(ctx context.Context, lab *types.Lab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, ok := s.labs[lab.ID]; !ok {
		return fmt.Errorf("lab %q: %w", lab.ID, laberrors.ErrLabNotFound)
	}
	labCopy := *lab
	s.labs[lab.ID] = &labCopy
	return nil
}

func (s *MemoryStore) DeleteLab(ctx context.Context, labID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	delete(s.labs, labID)
	delete(s.events, labID)
	return nil
}

func (s *MemoryStore) ListLabs(ctx context.Context) ([]*types.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	labs := make([]*types.Lab, 0, len(s.labs))
	for _, lab := range s.labs {
		labCopy := *lab
		labs = append(labs, &labCopy)
	}
	sort.Slice(labs, func(i, j int) bool {
		return labs[i].CreatedAt.Before(labs[j].CreatedAt)
	})
	return labs, nil
}

func (s *MemoryStore) RecordEvent(ctx context.Context, event *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	evCopy := *event
	s.events[event.LabID] = append(s.events[event.LabID], &evCopy)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, labID string, limit int) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stored := s.events[labID]
	events := make([]*types.Event, 0, len(stored))
	for _, ev := range stored {
		evCopy := *ev
		events = append(events, &evCopy)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
