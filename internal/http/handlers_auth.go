package http

import (
	"net/http"

	"fundledger/internal/auth"
	"fundledger/internal/core"
)

type registerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type loginRequest struct {
	Phone string `json:"phone"`
}

type sessionResponse struct {
	Token string   `json:"token"`
	Role  string   `json:"role"`
	User  userView `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.deps.Users.Register(r.Context(), sanitizeInput(req.Name), sanitizeInput(req.Phone))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.deps.Login.Login(r.Context(), sanitizeInput(req.Phone))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token: sess.Token,
		Role:  string(sess.Role),
		User:  toUserView(sess.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	u, err := s.deps.Users.Get(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(u))
}

// principal is only called behind the auth middleware.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

// canSee reports whether p may read a record owned by ownerID. Records
// hidden from members are reported as missing.
func canSee(p auth.Principal, ownerID string) error {
	if p.IsAdmin() || p.UserID == ownerID {
		return nil
	}
	return core.ErrNotFound
}

// scopeUser resolves the user a listing is restricted to. Members only ever
// see their own records; admins may narrow with ?user_id=.
func scopeUser(r *http.Request) string {
	p := principal(r)
	if p.IsAdmin() {
		return sanitizeInput(r.URL.Query().Get("user_id"))
	}
	return p.UserID
}
