package middleware

import (
	"net/http"

	"github.com/cyberguard/internal/model"
)

// RequireRole returns middleware that allows only officers with one of the
// given roles. Returns 403 Forbidden for any other role.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}
