package domain

import (
	"context"
	"errors"
	"strings"
)

// Role represents a user's access level within a school
type Role string

const (
	// RoleAdmin has full access to the school's billing
	RoleAdmin Role = "admin"

	// RoleBursar records payments and reads reports
	RoleBursar Role = "bursar"

	// RoleViewer can only read records and reports
	RoleViewer Role = "viewer"
)

var validRoles = map[Role]bool{
	RoleAdmin:  true,
	RoleBursar: true,
	RoleViewer: true,
}

// ParseRole normalizes a role name.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	return validRoles[r]
}

// CanRecordPayments checks if the role can mutate billing records
func (r Role) CanRecordPayments() bool {
	return r == RoleAdmin || r == RoleBursar
}

// CanView checks if the role can read billing data
func (r Role) CanView() bool {
	return r.IsValid()
}

// Actor is the authenticated caller of an operation. SchoolID is the tenant
// every operation is scoped to.
type Actor struct {
	UserID   string
	SchoolID string
	Role     Role
}

type actorKey struct{}

// ContextWithActor stores the actor in ctx.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

type requestIDKey struct{}

// ContextWithRequestID stores the request id used to correlate audit logs.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Authentication errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
)
