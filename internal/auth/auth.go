// Package auth issues and checks the bearer tokens that gate member and
// admin routes. It is a capability check, not an identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fundledger/internal/core"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Principal is the caller attached to an authenticated request.
type Principal struct {
	UserID string
	Role   core.Role
}

func (p Principal) IsAdmin() bool { return p.Role == core.RoleAdmin }

type claims struct {
	Role core.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 tokens carrying sub and role.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(userID string, role core.Role) (string, error) {
	if userID == "" || !role.Valid() {
		return "", fmt.Errorf("issue token: %w", core.ErrValidation)
	}
	now := i.now()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates the signature and expiry and returns the principal.
func (i *Issuer) Parse(token string) (Principal, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Principal{}, ErrUnauthorized
	}
	if c.Subject == "" || !c.Role.Valid() {
		return Principal{}, ErrUnauthorized
	}
	return Principal{UserID: c.Subject, Role: c.Role}, nil
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// ErrorWriter renders an auth failure. The HTTP layer passes its own JSON
// writer so auth errors share the API error shape.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

func plainError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, ErrForbidden) {
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

// Middleware requires a valid bearer token.
func (i *Issuer) Middleware(onErr ErrorWriter) func(http.Handler) http.Handler {
	if onErr == nil {
		onErr = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				onErr(w, r, fmt.Errorf("%w: missing bearer token", ErrUnauthorized))
				return
			}
			p, err := i.Parse(strings.TrimSpace(parts[1]))
			if err != nil {
				onErr(w, r, fmt.Errorf("%w: invalid or expired token", ErrUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole must run after Middleware.
func RequireRole(role core.Role, onErr ErrorWriter) func(http.Handler) http.Handler {
	if onErr == nil {
		onErr = plainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				onErr(w, r, ErrUnauthorized)
				return
			}
			if p.Role != role {
				onErr(w, r, fmt.Errorf("%w: %s role required", ErrForbidden, role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
