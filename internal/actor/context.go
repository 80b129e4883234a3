package actor

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Role is the authenticated caller's role within its company.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
	RoleCrew    Role = "crew"
)

// Claims identifies the caller of an operation.
type Claims struct {
	UserID    snowflake.ID
	CompanyID snowflake.ID
	Role      Role
}

var ErrInvalidRole = errors.New("invalid_role")

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleManager:
		return RoleManager, nil
	case RoleStaff:
		return RoleStaff, nil
	case RoleCrew:
		return RoleCrew, nil
	default:
		return "", ErrInvalidRole
	}
}

// CanApprove reports whether the role may approve, reject, edit or invoice.
func (r Role) CanApprove() bool {
	return r == RoleAdmin || r == RoleManager
}

// Valid reports whether the claims carry a usable identity.
func (c Claims) Valid() bool {
	if c.UserID == 0 || c.CompanyID == 0 {
		return false
	}
	_, err := ParseRole(string(c.Role))
	return err == nil
}

type claimsKey struct{}

// WithClaims stores the caller in the context.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the caller, if set.
func FromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	if !ok || !claims.Valid() {
		return Claims{}, false
	}
	return claims, true
}
