package state

import (
	"fmt"
	"sync"

	"bizdash/internal/ingest"
	"bizdash/internal/model"
)

// Snapshot is the result of one refresh cycle for a dataset.
type Snapshot struct {
	Seq        int64                `json:"seq"`
	UpdatedAt  int64                `json:"updatedAt"` // unix milliseconds
	Source     string               `json:"source"`
	FetchError string               `json:"fetchError,omitempty"`
	Records    []model.OrderRecord  `json:"records"`
	Summary    model.MetricsSummary `json:"summary"`
	Report     ingest.Report        `json:"report"`
}

// Store keeps the latest snapshot per dataset. Contents are never persisted;
// every backend lives in process memory.
type Store interface {
	// Apply stores snap if snap.Seq is greater than the stored Seq. A refresh
	// that started earlier than the one already applied is skipped.
	Apply(key string, snap Snapshot) (applied bool, current Snapshot, err error)
	Get(key string) (Snapshot, bool)
	Range(fn func(key string, s Snapshot) error) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendBadger = "badger"
)

// New opens a store for the named backend.
func New(backend string) (Store, error) {
	switch backend {
	case "", BackendMemory:
		return NewInMemoryStore(), nil
	case BackendPebble:
		return NewPebbleStore()
	case BackendBadger:
		return NewBadgerStore()
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Snapshot
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Snapshot)}
}

func (s *InMemoryStore) Apply(key string, snap Snapshot) (bool, Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	if ok && snap.Seq <= cur.Seq {
		return false, cur, nil
	}
	s.data[key] = snap
	return true, snap, nil
}

func (s *InMemoryStore) Get(key string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[key]
	return st, ok
}

func (s *InMemoryStore) Range(fn func(key string, st Snapshot) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if err := fn(k, v); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
