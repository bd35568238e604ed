package http

import (
	"net/http"

	"fundledger/internal/store"
)

type userStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := parseListOptions(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := parseUserStatus(q.Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.deps.Users.List(r.Context(), store.UserFilter{Status: status, ListOptions: opts})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(list, toUserView))
}

func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req userStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := parseUserStatus(req.Status)
	if err == nil && status == "" {
		err = errMissingStatus
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Users.SetStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Users.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
