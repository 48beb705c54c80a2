// Package badger stores history entries in an embedded BadgerDB.
//
// Entries are msgpack-encoded under "entry/<uuidv7>". UUIDv7 strings sort by
// creation time, so a reverse prefix scan yields the newest entries first.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/dictum/internal/history"
)

var entryPrefix = []byte("entry/")

// Options configures the store.
type Options struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool
}

// Store is a [history.Store] backed by BadgerDB. It is safe for concurrent
// use.
type Store struct {
	db     *badgerdb.DB
	closed atomic.Bool
}

var _ history.Store = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("history badger: Dir is required for on-disk mode")
	}
	dbOpts := badgerdb.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("history badger: open: %w", err)
	}
	return &Store{db: db}, nil
}

func entryKey(id string) []byte {
	return append(append([]byte(nil), entryPrefix...), id...)
}

// Append implements [history.Store].
func (s *Store) Append(_ context.Context, e history.Entry) error {
	if s.closed.Load() {
		return history.ErrClosed
	}
	e = history.EnsureID(e)
	val, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("history badger: encode: %w", err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(entryKey(e.ID), val)
	})
	if err != nil {
		return fmt.Errorf("history badger: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.closed.Load() {
		return nil, history.ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	var out []history.Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		iterOpts := badgerdb.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = entryPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// In reverse mode Seek lands on the last key <= the seek key.
		seek := append(append([]byte(nil), entryPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(entryPrefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e history.Entry
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &e)
			})
			if err != nil {
				slog.Warn("history badger: skipping unreadable entry", "key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history badger: recent: %w", err)
	}
	return out, nil
}

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return history.ErrClosed
	}
	return nil
}

// Close closes the database. Further calls are no-ops.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// slogLogger routes badger's warnings and errors to slog and drops the rest.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any) {
	slog.Error("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Warningf(f string, v ...any) {
	slog.Warn("badger: " + fmt.Sprintf(f, v...))
}

func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
