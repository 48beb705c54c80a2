// Package health serves the liveness and readiness probes of the dictation
// daemon.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes: a recognizer is
//     configured, a VAD engine is loaded and the history store answers.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 3 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checkers run concurrently on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker with a per-check deadline and reports 503 if any
// of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Recognizer reports whether a speech recognizer is configured. available
// may be nil; when set it is consulted so an all-open circuit breaker chain
// marks the daemon unready.
func Recognizer(configured bool, available func() bool) Checker {
	return Checker{Name: "recognizer", Check: func(context.Context) error {
		if !configured {
			return errors.New("no recognizer configured")
		}
		if available != nil && !available() {
			return errors.New("all recognizers are unavailable")
		}
		return nil
	}}
}

// VAD reports whether a voice activity engine is loaded. name is reported in
// the failure so an operator can see which backend was attempted.
func VAD(name string, loaded bool) Checker {
	return Checker{Name: "vad", Check: func(context.Context) error {
		if !loaded {
			return fmt.Errorf("vad engine %q not loaded", name)
		}
		return nil
	}}
}

// Pinger is a dependency that can be probed, such as a history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping wraps p as a checker named name.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
