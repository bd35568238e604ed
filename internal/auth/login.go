package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fundledger/internal/core"
	applog "fundledger/internal/log"
)

type UserFinder interface {
	FindByPhone(ctx context.Context, phone string) (core.User, error)
}

// Login resolves a phone to a signed token. Admin phones get the admin role
// whatever their registration status; everyone else must be approved.
type Login struct {
	users  UserFinder
	issuer *Issuer
	admins map[string]struct{}
}

func NewLogin(users UserFinder, issuer *Issuer, adminPhones []string) *Login {
	admins := make(map[string]struct{}, len(adminPhones))
	for _, p := range adminPhones {
		if n := core.NormalizePhone(p); n != "" {
			admins[n] = struct{}{}
		}
	}
	return &Login{users: users, issuer: issuer, admins: admins}
}

type Session struct {
	Token string
	User  core.User
	Role  core.Role
}

func (l *Login) Login(ctx context.Context, phone string) (Session, error) {
	phone = core.NormalizePhone(phone)
	u, err := l.users.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: unknown phone", ErrUnauthorized)
		}
		return Session{}, fmt.Errorf("find user: %w", err)
	}

	role := core.RoleMember
	if _, ok := l.admins[phone]; ok {
		role = core.RoleAdmin
	} else if u.Status != core.UserApproved {
		return Session{}, fmt.Errorf("%w: registration is %s", ErrForbidden, u.Status)
	}

	token, err := l.issuer.Issue(u.ID, role)
	if err != nil {
		return Session{}, err
	}
	slog.InfoContext(ctx, "User logged in",
		applog.FieldUserID, u.ID,
		applog.FieldRole, string(role),
		applog.FieldComponent, applog.ComponentAuth)
	return Session{Token: token, User: u, Role: role}, nil
}
