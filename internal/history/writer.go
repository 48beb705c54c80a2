package history

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dictum/internal/dispatch"
)

// drainTimeout bounds the final flush after Run's context ends.
const drainTimeout = 2 * time.Second

// Writer appends entries to a [Store] on its own goroutine so the caller
// never waits on storage.
type Writer struct {
	store   Store
	ch      chan Entry
	dropped atomic.Int64
}

// NewWriter creates a writer with room for buffer pending entries.
func NewWriter(store Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 64
	}
	return &Writer{store: store, ch: make(chan Entry, buffer)}
}

// Record queues ev. When the queue is full the entry is dropped and counted.
func (w *Writer) Record(ev dispatch.Event) {
	select {
	case w.ch <- FromEvent(ev):
	default:
		n := w.dropped.Add(1)
		slog.Warn("history queue full, entry dropped", "seq", ev.Seq, "dropped_total", n)
	}
}

// Dropped returns how many entries were lost to a full queue.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Run writes queued entries until ctx is done, then flushes what is still
// queued within a short grace period.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.ch:
			w.append(ctx, e)
		case <-ctx.Done():
			w.drain()
			return nil
		}
	}
}

func (w *Writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-w.ch:
			w.append(ctx, e)
		default:
			return
		}
	}
}

func (w *Writer) append(ctx context.Context, e Entry) {
	if err := w.store.Append(ctx, e); err != nil {
		slog.Warn("history append failed", "id", e.ID, "error", err)
	}
}
