package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"phivault/pkg/domain"
	"phivault/pkg/requestcontext"
)

// TokenValidator turns a bearer token into an actor identity.
type TokenValidator interface {
	Validate(raw string) (domain.Actor, error)
}

// RequireAuth rejects requests without a valid bearer token and injects the
// authenticated actor, including client IP, into the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				logger.WarnContext(ctx, "unauthorized access, missing token",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w)
				return
			}

			actor, err := validator.Validate(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token",
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				writeUnauthorized(w)
				return
			}
			actor.IP = ClientIP(r)

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
