package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

type contextKey string

const claimsKey contextKey = "admin_claims"

// RequireToken rejects requests without a valid bearer token. While the
// service has no key, every request is refused with 403.
func RequireToken(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !svc.Enabled() {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, map[string]string{"error": ErrAuthNotConfigured.Error()})

				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "authorization header required"})

				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "invalid authorization header format"})

				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("admin token rejected")

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "invalid token"})

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// ClaimsFromContext returns the claims RequireToken accepted.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)

	return claims, ok
}

// Subject returns the token subject of the request, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Subject
	}

	return ""
}
