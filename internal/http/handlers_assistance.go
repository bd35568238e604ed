package http

import (
	"net/http"
	"strings"

	"fundledger/internal/core"
	"fundledger/internal/services"
	"fundledger/internal/store"
)

type assistanceRequest struct {
	Category string `json:"category"`
	Amount   string `json:"amount"` // optional
	Reason   string `json:"reason"`
}

type assistanceStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) handleSubmitAssistance(w http.ResponseWriter, r *http.Request) {
	var req assistanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	var amount core.Money
	if strings.TrimSpace(req.Amount) != "" {
		m, err := parseAmount(req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		amount = m
	}

	a, err := s.deps.Assistance.Submit(r.Context(), services.AssistanceInput{
		UserID:   principal(r).UserID,
		Category: sanitizeInput(req.Category),
		Amount:   amount,
		Reason:   sanitizeInput(req.Reason),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssistanceView(a))
}

func (s *Server) handleListAssistance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := parseListOptions(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := parseAssistanceStatus(q.Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.deps.Assistance.List(r.Context(), store.AssistanceFilter{
		UserID:      scopeUser(r),
		Status:      status,
		ListOptions: opts,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(list, toAssistanceView))
}

func (s *Server) handleGetAssistance(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Assistance.Get(r.Context(), r.PathValue("id"))
	if err == nil {
		err = canSee(principal(r), a.UserID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceView(a))
}

func (s *Server) handleSetAssistanceStatus(w http.ResponseWriter, r *http.Request) {
	var req assistanceStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	status, err := parseAssistanceStatus(req.Status)
	if err == nil && status == "" {
		err = errMissingStatus
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.deps.Assistance.SetStatus(r.Context(), r.PathValue("id"), status, sanitizeInput(req.Note))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssistanceView(a))
}
