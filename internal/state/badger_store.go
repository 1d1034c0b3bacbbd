package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"bizdash/internal/logging"
)

// BadgerStore implements Store using BadgerDB in in-memory mode.
type BadgerStore struct {
	mu sync.Mutex
	db *badger.DB
}

func NewBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{l: logging.With().Str("component", "badger").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) Apply(key string, snap Snapshot) (bool, Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var applied bool
	var out Snapshot
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			v, e := item.ValueCopy(nil)
			if e != nil {
				return e
			}
			cur, e := decodeSnapshot(v)
			if e != nil {
				return e
			}
			if snap.Seq <= cur.Seq {
				out = cur
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		val, e := encodeSnapshot(snap)
		if e != nil {
			return e
		}
		if e = txn.Set([]byte(key), val); e != nil {
			return e
		}
		applied = true
		out = snap
		return nil
	})
	return applied, out, err
}

func (b *BadgerStore) Get(key string) (Snapshot, bool) {
	var s Snapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, e := txn.Get([]byte(key))
		if e != nil {
			return e
		}
		return item.Value(func(v []byte) error {
			var dErr error
			s, dErr = decodeSnapshot(v)
			return dErr
		})
	})
	if err != nil {
		return Snapshot{}, false
	}
	return s, true
}

func (b *BadgerStore) Range(fn func(key string, s Snapshot) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			s, err := decodeSnapshot(v)
			if err != nil {
				return err
			}
			if err := fn(string(k), s); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes badger's internal logging to zerolog.
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, args ...interface{}) {
	b.l.Error().Msgf(strings.TrimSpace(f), args...)
}

func (b badgerLogger) Warningf(f string, args ...interface{}) {
	b.l.Warn().Msgf(strings.TrimSpace(f), args...)
}

func (b badgerLogger) Infof(f string, args ...interface{}) {
	b.l.Debug().Msgf(strings.TrimSpace(f), args...)
}

func (b badgerLogger) Debugf(f string, args ...interface{}) {
	b.l.Trace().Msgf(strings.TrimSpace(f), args...)
}
