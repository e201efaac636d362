package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Notifier accepts a hint that a run may have changed state.
type Notifier interface {
	Notify(runID string) bool
}

// Listener is the notification intake: a small HTTP surface, separate from
// the public API, that providers or bridge processes hit to hint that a run
// changed. Notifications are hints only; a dropped or duplicate one is
// harmless because the poll loop backstops everything.
type Listener struct {
	notifier Notifier
	logger   *slog.Logger
	router   chi.Router
}

// NewListener creates the notification intake handler.
func NewListener(n Notifier, logger *slog.Logger) *Listener {
	l := &Listener{notifier: n, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/notify", l.handleNotify)
	l.router = r

	return l
}

// Handler returns the intake's HTTP handler.
func (l *Listener) Handler() http.Handler {
	return l.router
}

type notifyRequest struct {
	RunID string `json:"run_id"`
}

// handleNotify accepts {"run_id": "..."} and responds 202 whether or not
// the hint fit in the queue.
func (l *Listener) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RunID == "" {
		http.Error(w, `{"error":"run_id is required"}`, http.StatusBadRequest)
		return
	}

	l.notifier.Notify(req.RunID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
