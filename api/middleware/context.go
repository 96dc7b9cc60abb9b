package middleware

import (
	"context"

	pkgAuth "github.com/angelmondragon/stockledger/pkg/auth"
)

type contextKey string

const (
	ctxOperator contextKey = "operator"
	ctxRole     contextKey = "operator_role"
)

// OperatorFromContext returns the authenticated token subject, or "".
func OperatorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperator).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) pkgAuth.Role {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(pkgAuth.Role); ok {
		return v
	}
	return ""
}

// WithOperator seeds the operator identity, as Auth does after a valid token.
func WithOperator(ctx context.Context, subject string, role pkgAuth.Role) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxOperator, subject)
	return context.WithValue(ctx, ctxRole, role)
}
