package http

import (
	"context"
	"fmt"
	"net/http"

	"fundledger/internal/auth"
	"fundledger/internal/services"
	"fundledger/internal/store"
)

type submitTransactionRequest struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Method      string `json:"method"`
	FundType    string `json:"fund_type"`
	ExternalRef string `json:"external_ref"`
	Note        string `json:"note"`
	Date        string `json:"date"`
}

type manualTransactionRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
	Note   string `json:"note"`
	Date   string `json:"date"`
}

type transitionResponse struct {
	Applied     bool            `json:"applied"`
	Transaction transactionView `json:"transaction"`
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p := principal(r)
	userID := sanitizeInput(req.UserID)
	switch {
	case userID == "":
		userID = p.UserID
	case userID != p.UserID && !p.IsAdmin():
		writeError(w, r, fmt.Errorf("%w: cannot submit for another member", auth.ErrForbidden))
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.deps.Transactions.Submit(r.Context(), services.SubmitInput{
		UserID:      userID,
		Amount:      amount,
		Method:      sanitizeInput(req.Method),
		FundType:    sanitizeInput(req.FundType),
		ExternalRef: sanitizeInput(req.ExternalRef),
		Note:        sanitizeInput(req.Note),
		Date:        date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionView(t))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := parseListOptions(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, err := parseTxStatus(q.Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.deps.Transactions.List(r.Context(), store.TransactionFilter{
		UserID:      scopeUser(r),
		Status:      status,
		ListOptions: opts,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(list, toTransactionView))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Transactions.Get(r.Context(), r.PathValue("id"))
	if err == nil {
		err = canSee(principal(r), t.UserID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionView(t))
}

func (s *Server) handleManualTransaction(w http.ResponseWriter, r *http.Request) {
	var req manualTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	date, err := parseOptionalDate(req.Date)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := s.deps.Transactions.AddManual(r.Context(), services.ManualInput{
		UserID: sanitizeInput(req.UserID),
		Amount: amount,
		Note:   sanitizeInput(req.Note),
		Date:   date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateLedger()
	writeJSON(w, http.StatusCreated, toTransactionView(t))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Transactions.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Transactions.Reject)
}

// transition applies a status change and reports whether this call was the
// one that applied it. A lost race answers 200 with applied=false.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id string) (bool, error)) {
	id := r.PathValue("id")
	applied, err := apply(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if applied {
		s.invalidateLedger()
	}
	t, err := s.deps.Transactions.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{Applied: applied, Transaction: toTransactionView(t)})
}
