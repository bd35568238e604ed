package http

import (
	"net/http"

	"fundledger/internal/store"
)

type sendNotificationRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type markReadResponse struct {
	Changed bool `json:"changed"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := parseListOptions(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	unread, err := parseBoolParam(q, "unread")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.deps.Notifications.List(r.Context(), store.NotificationFilter{
		UserID:      scopeUser(r),
		UnreadOnly:  unread,
		ListOptions: opts,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(list, toNotificationView))
}

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendNotificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Notifications.Send(r.Context(), sanitizeInput(req.UserID), sanitizeInput(req.Message)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.deps.Notifications.Get(r.Context(), id)
	if err == nil {
		err = canSee(principal(r), n.UserID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	changed, err := s.deps.Notifications.MarkRead(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{Changed: changed})
}
