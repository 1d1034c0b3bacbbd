package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/goccy/go-json"
)

// PebbleStore implements Store on PebbleDB backed by an in-memory filesystem.
type PebbleStore struct {
	mu sync.Mutex // serializes Apply's read-modify-write
	db *pebble.DB
}

func NewPebbleStore() (*PebbleStore, error) {
	opts := &pebble.Options{
		FS:                    vfs.NewMem(),
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
		DisableWAL:            true,
	}
	d, err := pebble.Open("", opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func encodeSnapshot(s Snapshot) ([]byte, error) { return json.Marshal(s) }
func decodeSnapshot(val []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(val, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func (p *PebbleStore) read(k []byte) (Snapshot, bool, error) {
	v, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	defer closer.Close()
	s, err := decodeSnapshot(v)
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (p *PebbleStore) Apply(key string, snap Snapshot) (bool, Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key)
	cur, ok, err := p.read(k)
	if err != nil {
		return false, Snapshot{}, err
	}
	if ok && snap.Seq <= cur.Seq {
		return false, cur, nil
	}
	b, err := encodeSnapshot(snap)
	if err != nil {
		return false, Snapshot{}, err
	}
	if err := p.db.Set(k, b, pebble.NoSync); err != nil {
		return false, Snapshot{}, err
	}
	return true, snap, nil
}

func (p *PebbleStore) Get(key string) (Snapshot, bool) {
	s, ok, err := p.read([]byte(key))
	if err != nil {
		return Snapshot{}, false
	}
	return s, ok
}

func (p *PebbleStore) Range(fn func(key string, s Snapshot) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		s, err := decodeSnapshot(it.Value())
		if err != nil {
			return err
		}
		if err := fn(string(k), s); err != nil {
			return err
		}
	}
	return nil
}
