package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fundledger/internal/bus"
	"fundledger/internal/core"
	applog "fundledger/internal/log"
	"fundledger/internal/store"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := store.Ping(r.Context(), s.deps.Store); err != nil {
			slog.WarnContext(r.Context(), "Readiness check failed",
				applog.FieldError, err, applog.FieldComponent, applog.ComponentBackend)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	v, err := s.loadLedger(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleLedgerEvents streams a ledger snapshot on connect and after every
// committed change to the totals.
func (s *Server) handleLedgerEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Best effort: the recorder used in tests has no deadline support.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.WarnContext(r.Context(), "Streaming not supported", applog.FieldError, err, applog.FieldComponent, applog.ComponentHTTP)
		return
	}

	ctx := r.Context()
	for v := range bus.Watch(ctx, s.bus, core.KindLedger, s.readLedger) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "event: ledger\ndata: %s\n\n", data); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Reconcile.RunOnce(r.Context())
	s.invalidateLedger()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileView(res))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics())
}
