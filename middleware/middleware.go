package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/rs/cors"
)

// PublicPaths bypass the access gate.
var PublicPaths = map[string]bool{
	"/health": true,
}

// HashPassword returns the hex SHA-256 digest the access gate compares with.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// AccessGate admits requests carrying the password whose SHA-256 digest is
// hash. An empty hash disables the gate.
func AccessGate(hash string) func(http.Handler) http.Handler {
	want := []byte(strings.ToLower(hash))
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			password := extractPassword(r)
			if password == "" {
				writeJSONError(w, http.StatusUnauthorized, "Password required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(HashPassword(password)), want) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "Invalid password")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractPassword reads the password from the request headers.
func extractPassword(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return r.Header.Get("X-Access-Password")
}

// RateLimit caps each client at perSecond requests per second.
func RateLimit(perSecond float64) func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetMessageContentType("application/json; charset=utf-8")
	lmt.SetMessage(`{"error":"Too many requests"}`)
	return func(next http.Handler) http.Handler {
		if perSecond <= 0 {
			return next
		}
		return tollbooth.LimitHandler(lmt, next)
	}
}

// CORS builds the cross-origin handler for the API.
func CORS(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Access-Password"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
	})
}

// Logging logs every request except health and metrics probes.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				return
			}
			level := slog.LevelInfo
			if wrapped.statusCode >= 500 {
				level = slog.LevelError
			} else if wrapped.statusCode >= 400 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "api request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start).Round(time.Microsecond),
				"remote", r.RemoteAddr,
			)
		})
	}
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	return rw.ResponseWriter.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
