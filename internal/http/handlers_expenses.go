package http

import (
	"net/http"

	"fundledger/internal/services"
)

type expenseRequest struct {
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
	ProofRef string `json:"proof_ref"`
	Date     string `json:"date"`
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
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

	e, err := s.deps.Expenses.AddExpense(r.Context(), services.ExpenseInput{
		Amount:   amount,
		Reason:   sanitizeInput(req.Reason),
		ProofRef: sanitizeInput(req.ProofRef),
		Date:     date,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateLedger()
	writeJSON(w, http.StatusCreated, toExpenseView(e))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.deps.Expenses.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapViews(list, toExpenseView))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Expenses.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseView(e))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Expenses.DeleteExpense(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	s.invalidateLedger()
	w.WriteHeader(http.StatusNoContent)
}
