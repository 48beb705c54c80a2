// Package history keeps a durable log of delivered dictation.
//
// Every text event released to the user becomes one [Entry]. Entries are
// appended by a [Writer] off the UI goroutine and read back newest first by
// `dictum history` and the control API. Backends live in sub-packages:
// badger for a local embedded store and postgres for a shared database.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dictum/internal/dispatch"
)

// ErrClosed is returned by stores after Close.
var ErrClosed = errors.New("history: store closed")

// Entry is one delivered piece of dictation.
type Entry struct {
	// ID is a time-ordered UUIDv7.
	ID        string        `msgpack:"id" json:"id"`
	SessionID string        `msgpack:"session_id" json:"session_id,omitempty"`
	Seq       uint64        `msgpack:"seq" json:"seq"`
	Text      string        `msgpack:"text" json:"text"`
	RawText   string        `msgpack:"raw_text" json:"raw_text,omitempty"`
	Language  string        `msgpack:"language" json:"language,omitempty"`
	Reason    string        `msgpack:"reason" json:"reason"`
	Audio     time.Duration `msgpack:"audio_ns" json:"audio_ns"`
	Created   time.Time     `msgpack:"created" json:"created"`
}

// FromEvent builds an entry for a delivered event.
func FromEvent(ev dispatch.Event) Entry {
	created := ev.Completed
	if created.IsZero() {
		created = time.Now()
	}
	return Entry{
		ID:        newID(),
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Text:      ev.Text,
		RawText:   ev.RawText,
		Language:  ev.Language,
		Reason:    ev.Reason.String(),
		Audio:     ev.Audio,
		Created:   created.UTC(),
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Store persists entries.
type Store interface {
	// Append stores e. An empty ID is replaced with a new one.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// EnsureID fills in e.ID when it is empty.
func EnsureID(e Entry) Entry {
	if e.ID == "" {
		e.ID = newID()
	}
	return e
}

// Nop is a [Store] that keeps nothing.
type Nop struct{}

func (Nop) Append(context.Context, Entry) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Ping(context.Context) error                   { return nil }
func (Nop) Close() error                                 { return nil }
