package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	laberrors "github.com/iammrherb/labdabbler/pkg/errors"
	"github.com/iammrherb/labdabbler/pkg/logging"
	"github.com/iammrherb/labdabbler/pkg/types"
)

const (
	labKeyPrefix   = "lab:"
	eventKeyPrefix = "event:"

	// eventTTL bounds how long lifecycle events are retained
	eventTTL = 7 * 24 * time.Hour

	gcInterval     = 10 * time.Minute
	gcDiscardRatio = 0.5
)

// BadgerStore is an embedded transactional registry backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
	stopGC chan struct{}
}

// NewBadgerStore opens (or creates) a Badger database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		logger: logging.WithComponent("state.badger"),
		stopGC: make(chan struct{}),
	}
	go s.runGC()
	return s, nil
}

// Initialize verifies the database is usable.
func (s *BadgerStore) Initialize(ctx context.Context) error {
	return s.HealthCheck(ctx)
}

func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is
			// nothing to collect; that is the common case.
			if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil && err != badger.ErrNoRewrite {
				s.logger.WithError(err).Warn("value log GC failed")
			}
		}
	}
}

func labKey(labID string) []byte {
	return []byte(labKeyPrefix + labID)
}

func eventKey(labID, eventID string) []byte {
	return []byte(eventKeyPrefix + labID + ":" + eventID)
}

// CreateLab records a newly launched lab.
func (s *BadgerStore) CreateLab(ctx context.Context, lab *types.Lab) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	data, err := json.Marshal(lab)
	if err != nil {
		return fmt.Errorf("failed to marshal lab: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(labKey(lab.ID), data)
	})
}

// GetLab retrieves a lab by ID.
func (s *BadgerStore) GetLab(ctx context.Context, labID string) (*types.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var lab types.Lab
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(labKey(labID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &lab)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("lab %q: %w", labID, laberrors.ErrLabNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lab: %w", err)
	}
	return &lab, nil
}

// UpdateLab replaces an existing lab record.
func (s *BadgerStore) UpdateLab(ctx context.Context, lab *types.Lab) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	data, err := json.Marshal(lab)
	if err != nil {
		return fmt.Errorf("failed to marshal lab: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(labKey(lab.ID)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("lab %q: %w", lab.ID, laberrors.ErrLabNotFound)
		} else if err != nil {
			return err
		}
		return txn.Set(labKey(lab.ID), data)
	})
}

// DeleteLab removes a lab record. Deleting a lab that is already gone is
// not an error.
func (s *BadgerStore) DeleteLab(ctx context.Context, labID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(labKey(labID))
	})
}

// ListLabs returns all registered labs.
func (s *BadgerStore) ListLabs(ctx context.Context) ([]*types.Lab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var labs []*types.Lab
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(labKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var lab types.Lab
				if err := json.Unmarshal(val, &lab); err != nil {
					return err
				}
				labs = append(labs, &lab)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}

	sort.Slice(labs, func(i, j int) bool {
		return labs[i].CreatedAt.Before(labs[j].CreatedAt)
	})
	return labs, nil
}

// RecordEvent appends a lifecycle event with a retention TTL.
func (s *BadgerStore) RecordEvent(ctx context.Context, event *types.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(eventKey(event.LabID, event.ID), data).WithTTL(eventTTL)
		return txn.SetEntry(entry)
	})
}

// GetEvents returns events for a lab, newest first, up to limit.
func (s *BadgerStore) GetEvents(ctx context.Context, labID string, limit int) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var events []*types.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix + labID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ev types.Event
				if err := json.Unmarshal(val, &ev); err != nil {
					return err
				}
				events = append(events, &ev)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// HealthCheck verifies the database answers a read.
func (s *BadgerStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("health"))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Close shuts down the database. Idempotent.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopGC)

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	return nil
}
