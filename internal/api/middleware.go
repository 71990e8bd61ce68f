package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sheikh-saqib/offline-payments-sync/internal/logger"
	"github.com/sheikh-saqib/offline-payments-sync/internal/models"
	"golang.org/x/time/rate"
)

type contextKey string

const ownerIDContextKey contextKey = "ownerID"

// TokenValidator resolves a bearer token to the owner id it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// ownerIDFromContext returns the authenticated owner id.
func ownerIDFromContext(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerIDContextKey).(string)
	return ownerID, ok && ownerID != ""
}

// contextualLogger attaches a logger carrying a fresh request id and logs the
// outcome of every request.
func (s *Server) contextualLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		reqLog := s.log.With("request_id", requestID)
		ctx := logger.ToContext(r.Context(), reqLog)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("X-Request-ID", requestID)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		reqLog.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.FromContext(r.Context()).Warn("rate limit exceeded", "path", r.URL.Path)
				writeError(w, http.StatusTooManyRequests, models.CodeRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate requires a valid bearer token and stores its owner id in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.FromContext(r.Context())

		authHeader := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if authHeader == "" || !found || strings.TrimSpace(tokenString) == "" {
			reqLog.Debug("authorization header missing or malformed", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, models.CodeUnauthenticated, "bearer token required", nil)
			return
		}

		ownerID, err := s.tokens.ValidateToken(strings.TrimSpace(tokenString))
		if err != nil {
			reqLog.Warn("token validation failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, models.CodeUnauthenticated, "invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDContextKey, ownerID)
		ctx = logger.ToContext(ctx, reqLog.With("owner_id", ownerID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
