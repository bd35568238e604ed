package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fundledger/internal/core"
	applog "fundledger/internal/log"
	"fundledger/internal/store"
)

type AssistanceInput struct {
	UserID   string
	Category string
	Amount   core.Money // informational
	Reason   string
}

// AssistanceService handles member requests for help. Amounts here never
// reach the ledger; disbursements are recorded as expenses.
type AssistanceService struct {
	store store.Store
	env
}

func NewAssistanceService(s store.Store) *AssistanceService {
	return &AssistanceService{store: s, env: defaultEnv()}
}

func (s *AssistanceService) Submit(ctx context.Context, in AssistanceInput) (core.AssistanceRequest, error) {
	a := core.AssistanceRequest{
		ID:        s.newID(),
		UserID:    strings.TrimSpace(in.UserID),
		Category:  strings.TrimSpace(in.Category),
		Amount:    in.Amount,
		Reason:    strings.TrimSpace(in.Reason),
		Status:    core.AssistancePending,
		Timestamp: s.now(),
	}
	if err := a.Validate(); err != nil {
		return core.AssistanceRequest{}, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetUser(ctx, a.UserID); err != nil {
			return err
		}
		return tx.CreateAssistanceRequest(ctx, a)
	})
	if err != nil {
		return core.AssistanceRequest{}, fmt.Errorf("submit assistance request: %w", err)
	}

	slog.InfoContext(ctx, "Assistance requested",
		applog.FieldRequestRef, a.ID, applog.FieldUserID, a.UserID, applog.FieldComponent, applog.ComponentAssistance)
	return a, nil
}

// SetStatus moves a request to any valid status and notifies the requester.
func (s *AssistanceService) SetStatus(ctx context.Context, id string, status core.AssistanceStatus, note string) (core.AssistanceRequest, error) {
	if !status.Valid() {
		return core.AssistanceRequest{}, core.ErrInvalidStatus
	}
	note = strings.TrimSpace(note)

	var updated core.AssistanceRequest
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAssistanceRequest(ctx, id)
		if err != nil {
			return err
		}
		a.Status = status
		a.AdminNote = note
		if err := a.Validate(); err != nil {
			return err
		}
		if err := tx.UpdateAssistanceRequest(ctx, id, status, note); err != nil {
			return err
		}
		updated = a
		msg := fmt.Sprintf("Your %s assistance request is now %s.", a.Category, strings.ToLower(string(status)))
		return s.notify(ctx, tx, a.UserID, msg)
	})
	if err != nil {
		return core.AssistanceRequest{}, fmt.Errorf("set assistance status: %w", err)
	}

	slog.InfoContext(ctx, "Assistance status set",
		applog.FieldRequestRef, id, applog.FieldStatus, status, applog.FieldComponent, applog.ComponentAssistance)
	return updated, nil
}

func (s *AssistanceService) Get(ctx context.Context, id string) (core.AssistanceRequest, error) {
	return s.store.GetAssistanceRequest(ctx, id)
}

func (s *AssistanceService) List(ctx context.Context, f store.AssistanceFilter) ([]core.AssistanceRequest, error) {
	return s.store.ListAssistanceRequests(ctx, f)
}
