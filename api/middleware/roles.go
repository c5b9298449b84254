package middleware

import (
	"net/http"

	"github.com/angelmondragon/vcledger/api/responses"
	"github.com/angelmondragon/vcledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/vcledger/pkg/errors"
	"github.com/angelmondragon/vcledger/pkg/logger"
)

// RequireRoles admits callers holding any of roles. Admin always passes.
func RequireRoles(logg *logger.Logger, roles ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == enums.ActorRoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted").
				WithDetails(map[string]any{"role": role}))
		})
	}
}
