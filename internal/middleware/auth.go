package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tessera/tessera/internal/auth"
)

// Authenticator verifies an access token and returns its claims.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Claims, error)
}

// AuthConfig holds configuration for the bearer auth middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator Authenticator
}

// Bearer returns a middleware that requires "Authorization: Bearer <token>".
// Verified claims are stored in the request context; read them with
// auth.ClaimsFromContext.
func Bearer(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", "missing_token"),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="tessera"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing bearer token")
				return
			}

			claims, err := cfg.Authenticator.Authenticate(r.Context(), token)
			if err != nil {
				code, msg := CodeTokenInvalid, "invalid token"
				if errors.Is(err, auth.ErrTokenExpired) {
					code, msg = CodeTokenExpired, "token expired"
				}

				cfg.Logger.Warn("authentication failed",
					slog.String("reason", strings.ToLower(code)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="tessera", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, code, msg)
				return
			}

			userID, _ := claims.UserID()
			cfg.Logger.Debug("authentication successful",
				slog.Int64("user_id", userID),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken returns the token from the Authorization header.
// The scheme is matched case-insensitively.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
