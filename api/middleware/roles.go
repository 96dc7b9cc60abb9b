package middleware

import (
	"net/http"

	"github.com/angelmondragon/stockledger/api/responses"
	pkgAuth "github.com/angelmondragon/stockledger/pkg/auth"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

func RequireRole(role pkgAuth.Role, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required").WithDetails(map[string]any{"role": string(role)}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
