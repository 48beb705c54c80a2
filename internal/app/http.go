package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/dictum/internal/health"
	"github.com/MrWong99/dictum/internal/history"
	"github.com/MrWong99/dictum/internal/observe"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

type errorBody struct {
	Error string `json:"error"`
}

type toggleBody struct {
	Active  bool         `json:"active"`
	Session *SessionInfo `json:"session,omitempty"`
}

func (a *App) routes(h *health.Handler) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	mux.HandleFunc("GET /session", a.handleSessionState)
	mux.HandleFunc("POST /session/start", a.handleSessionStart)
	mux.HandleFunc("POST /session/stop", a.handleSessionStop)
	mux.HandleFunc("POST /session/toggle", a.handleSessionToggle)

	mux.HandleFunc("POST /overlay/toggle", a.handleOverlayToggle)
	mux.Handle("GET /overlay/feed", a.feed)

	mux.HandleFunc("GET /transcript", a.handleTranscript)
	mux.HandleFunc("POST /transcript/clear", a.handleTranscriptClear)
	mux.HandleFunc("POST /transcript/copy", a.handleTranscriptCopy)

	mux.HandleFunc("GET /history", a.handleHistory)

	return observe.Middleware(a.metrics, observe.WithSessionLookup(a.sessions.ActiveID))(mux)
}

func (a *App) defaultMode() Mode {
	if a.Config().Segmentation.Continuous {
		return ModeContinuous
	}
	return ModeManual
}

func (a *App) handleSessionState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.State())
}

func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseMode(r.URL.Query().Get("mode"), a.defaultMode())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := a.sessions.Start(r.Context(), mode)
	switch {
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		observe.Logger(r.Context()).Error("start session", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, toggleBody{Active: true, Session: &info})
	}
}

func (a *App) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Stop(r.Context())
	switch {
	case errors.Is(err, ErrNoSession):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeJSON(w, http.StatusOK, toggleBody{Active: false, Session: &info})
	}
}

func (a *App) handleSessionToggle(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseMode(r.URL.Query().Get("mode"), a.defaultMode())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	active, info, err := a.sessions.Toggle(r.Context(), mode)
	if err != nil {
		observe.Logger(r.Context()).Error("toggle session", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleBody{Active: active, Session: &info})
}

func (a *App) handleOverlayToggle(w http.ResponseWriter, r *http.Request) {
	visible, err := a.ui.ToggleOverlay(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": visible})
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	snap, err := a.ui.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *App) handleTranscriptClear(w http.ResponseWriter, r *http.Request) {
	if err := a.ui.ClearText(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleTranscriptCopy(w http.ResponseWriter, r *http.Request) {
	snap, err := a.ui.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if snap.Transcript == "" {
		writeError(w, http.StatusConflict, errors.New("app: transcript is empty"))
		return
	}
	if err := a.copyText(snap.Transcript); err != nil {
		observe.Logger(r.Context()).Warn("copy transcript", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	_ = a.ui.SetStatus(r.Context(), "Copied to clipboard")
	writeJSON(w, http.StatusOK, map[string]int{"copied": len(snap.Transcript)})
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("app: limit must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := a.comps.History.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("read history", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
