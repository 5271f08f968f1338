package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/medagenda/scheduling-core/internal/scheduling"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs each request with method, path, status, duration
// and request ID.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start).String(),
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ActorMiddleware resolves the caller identity the gateway verified
// upstream. Identity and role verification are outside this service; by the
// time a request arrives here the X-Actor-* headers are trusted.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := r.Header.Get("X-Actor-ID")
		if idStr == "" {
			writeError(w, http.StatusUnauthorized, "missing_actor", "X-Actor-ID header is required")
			return
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_actor", "X-Actor-ID must be a valid UUID")
			return
		}

		actor := scheduling.Actor{
			ID:       id,
			Name:     r.Header.Get("X-Actor-Name"),
			Email:    r.Header.Get("X-Actor-Email"),
			Elevated: r.Header.Get("X-Actor-Role") == "admin",
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireElevated gates admin-only endpoints.
func RequireElevated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !getActor(r).Elevated {
			writeError(w, http.StatusForbidden, "forbidden", "admin capability required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getActor(r *http.Request) scheduling.Actor {
	actor, _ := r.Context().Value(actorKey).(scheduling.Actor)
	return actor
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
