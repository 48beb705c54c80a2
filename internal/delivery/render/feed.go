package render

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/dictum/internal/delivery"
)

const (
	// clientBuffer is the number of frames queued per client before new
	// frames are dropped for it.
	clientBuffer = 16

	writeTimeout = 5 * time.Second
)

// Feed fans overlay frames out to WebSocket clients as JSON text messages.
// A client that connects receives the latest frame first. Slow clients miss
// frames rather than stall the UI loop.
type Feed struct {
	originPatterns []string

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	last    []byte
}

var (
	_ delivery.Renderer = (*Feed)(nil)
	_ http.Handler      = (*Feed)(nil)
)

// NewFeed creates an empty feed. originPatterns are passed to the WebSocket
// handshake; none means same-origin only.
func NewFeed(originPatterns ...string) *Feed {
	return &Feed{
		originPatterns: originPatterns,
		clients:        make(map[chan []byte]struct{}),
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Render implements [delivery.Renderer].
func (f *Feed) Render(fr delivery.Frame) {
	msg, err := json.Marshal(fr)
	if err != nil {
		slog.Warn("overlay feed: encode frame", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = msg
	for ch := range f.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (f *Feed) subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last != nil {
		ch <- f.last
	}
	f.clients[ch] = struct{}{}
	return ch
}

func (f *Feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, ch)
}

// ServeHTTP upgrades the request and streams frames until the client goes
// away or the request context ends.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: f.originPatterns,
	})
	if err != nil {
		slog.Debug("overlay feed: accept", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen. CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())

	ch := f.subscribe()
	defer f.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case msg := <-ch:
			if err := write(ctx, conn, msg); err != nil {
				slog.Debug("overlay feed: write", "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
