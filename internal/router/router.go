// Package router sets up and configures the HTTP router and all API endpoints.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/testflow/api/internal/auth"
	"github.com/testflow/api/internal/middleware"
)

// Dependencies holds all the dependencies needed to create routes.
type Dependencies struct {
	AuthHandler    *auth.Handler
	Authenticator  *middleware.SessionAuthenticator
	AllowedOrigins []string
}

// New creates a new HTTP handler with all routes configured.
func New(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Per-route rate limiters (these apply IN ADDITION to the global limiter)
	authLimiter := NewRateLimiter(rate.Limit(20), 50)       // 20 rps, burst 50 (token issuance)
	credentialLimiter := NewRateLimiter(rate.Limit(10), 50) // 10 rps, burst 50 (credential management)

	registerUtilityRoutes(mux)
	registerAuthRoutes(mux, deps, authLimiter, credentialLimiter)

	// Global rate limiter applied to all routes
	globalRateLimiter := NewRateLimiter(rate.Limit(100), 100)

	var handler http.Handler = mux

	handler = middleware.RequestIDMiddleware(handler)
	handler = globalRateLimiter.LimitByIP(handler)
	handler = middleware.SecurityHeadersMiddleware(handler)
	handler = middleware.HTTPRequestMiddleware(handler)
	handler = middleware.AccessLogger(handler)
	handler = middleware.CorsMiddleware(handler, deps.AllowedOrigins)

	return handler
}

// registerAuthRoutes wires the identity and token-lifecycle endpoints. The
// token endpoint is the only unauthenticated one; everything else requires a
// valid session.
func registerAuthRoutes(mux *http.ServeMux, deps *Dependencies, authLimiter, credentialLimiter *RateLimiter) {
	h := deps.AuthHandler
	a := deps.Authenticator

	mux.Handle("POST /auth/token", authLimiter.LimitByIP(http.HandlerFunc(h.HandleToken)))

	mux.Handle("POST /auth/switch", a.RequireSession(http.HandlerFunc(h.HandleSwitch)))
	mux.Handle("POST /auth/impersonate", a.RequireSession(http.HandlerFunc(h.HandleImpersonate)))

	mux.Handle("POST /auth/credentials",
		a.RequireSession(credentialLimiter.LimitBySubject(http.HandlerFunc(h.HandleCreateCredential))))
	mux.Handle("GET /auth/credentials",
		a.RequireSession(http.HandlerFunc(h.HandleListCredentials)))
	mux.Handle("DELETE /auth/credentials/{credential_id}",
		a.RequireSession(http.HandlerFunc(h.HandleRevokeCredential)))
}

// registerUtilityRoutes adds health and metrics routes.
func registerUtilityRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("Failed to encode health response", "err", err)
	}
}
