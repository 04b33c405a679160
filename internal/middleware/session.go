package middleware

import (
	"context"
	"net/http"

	"github.com/cyberguard/internal/model"
)

const SessionCookieName = "officer_session"

type contextKey string

const (
	contextKeyOfficer   contextKey = "officer"
	contextKeyRequestID contextKey = "request_id"
)

// SessionReader retrieves the officer ID for a session token.
type SessionReader interface {
	GetOfficerID(ctx context.Context, sessionID string) (string, error)
}

type officerByIDer interface {
	GetByID(ctx context.Context, id string) (*model.Officer, error)
}

// Session validates the officer session cookie and stores the officer in the
// request context. Missing, expired or inactive sessions get a JSON 401.
func Session(sessions SessionReader, officers officerByIDer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			officerID, err := sessions.GetOfficerID(r.Context(), cookie.Value)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			officer, err := officers.GetByID(r.Context(), officerID)
			if err != nil || officer.Status != model.StatusActive {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyOfficer, officer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OfficerFromContext returns the authenticated officer, or nil.
func OfficerFromContext(ctx context.Context) *model.Officer {
	o, _ := ctx.Value(contextKeyOfficer).(*model.Officer)
	return o
}

// RoleFromContext returns the authenticated officer's role.
func RoleFromContext(ctx context.Context) model.Role {
	if o := OfficerFromContext(ctx); o != nil {
		return o.Role
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}` + "\n"))
}
