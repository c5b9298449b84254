package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/vcledger/pkg/enums"
)

type contextKey string

const (
	ctxTenantID contextKey = "tenant_id"
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     enums.ActorRole
}

func TenantIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxTenantID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func UserIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxUserID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

func PrincipalFromContext(ctx context.Context) Principal {
	return Principal{
		TenantID: TenantIDFromContext(ctx),
		UserID:   UserIDFromContext(ctx),
		Role:     RoleFromContext(ctx),
	}
}

// WithPrincipal seeds the context the way Auth does. Tests use it to skip
// token minting.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxTenantID, p.TenantID)
	ctx = context.WithValue(ctx, ctxUserID, p.UserID)
	return context.WithValue(ctx, ctxRole, p.Role)
}
