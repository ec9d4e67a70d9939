package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gncyclemart/shop-api/internal/models"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID       string
	Name         string
	Email        string
	IsAdmin      bool
	IsSuperAdmin bool
}

// Guard authenticates callers and authorizes admin-only operations.
type Guard interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
	RequireAdmin(p *Principal) error
}

// UserLookup loads the account a token was issued for.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// JWTGuard is the Guard backed by signed tokens and the users table.
type JWTGuard struct {
	tokens *Tokens
	users  UserLookup
}

var _ Guard = (*JWTGuard)(nil)

// NewGuard returns a JWTGuard.
func NewGuard(tokens *Tokens, users UserLookup) *JWTGuard {
	return &JWTGuard{tokens: tokens, users: users}
}

// Authenticate resolves a bearer token to the current state of its user.
// A deleted user is unauthenticated even if the token is still valid.
func (g *JWTGuard) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no token", ErrUnauthenticated)
	}
	id, err := g.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := g.users.GetUser(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	return PrincipalOf(user), nil
}

// RequireAdmin allows admins and super admins.
func (g *JWTGuard) RequireAdmin(p *Principal) error {
	return RequireAdmin(p)
}

// RequireAdmin allows admins and super admins.
func RequireAdmin(p *Principal) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if !p.IsAdmin && !p.IsSuperAdmin {
		return ErrForbidden
	}
	return nil
}

// PrincipalOf converts a user account into a Principal.
func PrincipalOf(u *models.User) *Principal {
	return &Principal{
		UserID:       u.ID,
		Name:         u.Name,
		Email:        u.Email,
		IsAdmin:      u.IsAdmin,
		IsSuperAdmin: u.IsSuperAdmin,
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the Principal stored by the auth middleware, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
