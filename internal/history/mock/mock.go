// Package mock provides an in-memory test double for history.Store.
//
// Appended entries are kept in order and returned newest first by Recent.
// Set AppendErr, RecentErr or PingErr to simulate backend failures.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictum/internal/history"
)

// Store is a mock implementation of history.Store. It is safe for concurrent
// use.
type Store struct {
	mu      sync.Mutex
	entries []history.Entry
	closed  bool

	// AppendErr, if non-nil, is returned by Append and nothing is stored.
	AppendErr error
	// RecentErr, if non-nil, is returned by Recent.
	RecentErr error
	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// Appended is signalled (non-blocking) after each successful Append when
	// non-nil.
	Appended chan history.Entry
}

var _ history.Store = (*Store)(nil)

// Append records e.
func (s *Store) Append(_ context.Context, e history.Entry) error {
	s.mu.Lock()
	if s.AppendErr != nil {
		err := s.AppendErr
		s.mu.Unlock()
		return err
	}
	e = history.EnsureID(e)
	s.entries = append(s.entries, e)
	ch := s.Appended
	s.mu.Unlock()

	if ch != nil {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	var out []history.Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Entries returns a copy of everything appended, oldest first.
func (s *Store) Entries() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Entry(nil), s.entries...)
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
