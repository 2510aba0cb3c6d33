// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/flockd/internal/auth"
	"github.com/ManuGH/flockd/internal/log"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const claimsKey contextKey = "claims"

// claimsFrom returns the validated claims installed by requireAuth.
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

// extractToken pulls the bearer token from the Authorization header or the
// session cookie.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// requireAuth validates the bearer token and installs its claims.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeUnauthorized(w)
			return
		}
		claims, err := s.cfg.Tokens.Validate(token)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = log.ContextWithRequestID(ctx, id)
		}
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str(log.FieldRequestID, middleware.GetReqID(ctx)).
			Msg("request")
	})
}

// setTokenCookie mirrors the issued token into the browser cookie.
func setTokenCookie(w http.ResponseWriter, token *auth.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token.AccessToken,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
