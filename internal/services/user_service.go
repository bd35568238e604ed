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

type UserService struct {
	store store.Store
	env
}

func NewUserService(s store.Store) *UserService {
	return &UserService{store: s, env: defaultEnv()}
}

// Register creates a pending member. The phone is the login key and must be
// unique; a duplicate fails with ErrConflict.
func (s *UserService) Register(ctx context.Context, name, phone string) (core.User, error) {
	u := core.User{
		ID:           s.newID(),
		Name:         strings.TrimSpace(name),
		Phone:        core.NormalizePhone(phone),
		Status:       core.UserPending,
		RegisteredAt: s.now(),
	}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return core.User{}, fmt.Errorf("register user: %w", err)
	}

	slog.InfoContext(ctx, "User registered", applog.FieldUserID, u.ID, applog.FieldComponent, applog.ComponentUser)
	return u, nil
}

func (s *UserService) FindByPhone(ctx context.Context, phone string) (core.User, error) {
	return s.store.FindUserByPhone(ctx, core.NormalizePhone(phone))
}

func (s *UserService) Get(ctx context.Context, id string) (core.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *UserService) List(ctx context.Context, f store.UserFilter) ([]core.User, error) {
	return s.store.ListUsers(ctx, f)
}

// SetStatus changes a member's registration status and tells them.
func (s *UserService) SetStatus(ctx context.Context, id string, status core.UserStatus) (core.User, error) {
	if !status.Valid() {
		return core.User{}, core.ErrInvalidStatus
	}

	var updated core.User
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u.Status == status {
			updated = u
			return nil
		}
		if err := tx.UpdateUserStatus(ctx, id, status); err != nil {
			return err
		}
		u.Status = status
		updated = u
		return s.notify(ctx, tx, id, statusMessage(status))
	})
	if err != nil {
		return core.User{}, fmt.Errorf("set user status: %w", err)
	}

	slog.InfoContext(ctx, "User status set",
		applog.FieldUserID, id, applog.FieldStatus, status, applog.FieldComponent, applog.ComponentUser)
	return updated, nil
}

func statusMessage(status core.UserStatus) string {
	switch status {
	case core.UserApproved:
		return "Your membership has been approved."
	case core.UserRejected:
		return "Your membership request was rejected."
	default:
		return "Your membership is pending review."
	}
}

// Delete removes the user record. Their transactions stay in the log and
// keep counting towards the totals.
func (s *UserService) Delete(ctx context.Context, id string) error {
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteUser(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	slog.InfoContext(ctx, "User deleted", applog.FieldUserID, id, applog.FieldComponent, applog.ComponentUser)
	return nil
}
