package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/detectai/backend/internal/apperr"
	"github.com/detectai/backend/internal/models"
)

type contextKey string

const ctxUserKey contextKey = "user"

// APIKeyHeader carries the raw API key on prediction requests.
const APIKeyHeader = "X-Api-Key"

// Authenticator resolves a bearer access token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// SessionAuth requires a valid bearer access token and puts the user into
// the request context.
func SessionAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractBearer(r)
			if raw == "" {
				apperr.Write(w, apperr.ErrUnauthorized)
				return
			}
			u, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				apperr.Write(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequirePrivileged rejects non-admin users. Use after SessionAuth.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !UserFromCtx(r.Context()).IsPrivileged() {
			apperr.Write(w, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromCtx returns the authenticated user or nil.
func UserFromCtx(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxUserKey).(*models.User)
	return u
}

// WithUser returns a context carrying the given user.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxUserKey, u)
}

// APIKeyFromRequest returns the raw key header, trimmed.
func APIKeyFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

func ExtractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
