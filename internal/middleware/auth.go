package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/testflow/api/internal/auth"
	"github.com/testflow/api/internal/logging"
)

// SessionAuthenticator validates bearer session tokens and stashes the
// decoded claims in the request context.
type SessionAuthenticator struct {
	codec *auth.Codec
}

// NewSessionAuthenticator creates a new session authenticator.
func NewSessionAuthenticator(codec *auth.Codec) *SessionAuthenticator {
	return &SessionAuthenticator{codec: codec}
}

// RequireSession rejects requests without a valid session token. Decode
// failures are surfaced specifically: the client can tell a stale token
// (re-authenticate) from a garbled one.
func (a *SessionAuthenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			unauthorized(w, "missing bearer token")
			return
		}
		if auth.IsCredentialSecret(token) {
			// Device credentials are exchanged at /auth/token, not
			// presented directly.
			unauthorized(w, "device credential is not a session token")
			return
		}

		claims, err := a.codec.Decode(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				unauthorized(w, "token expired")
			case errors.Is(err, auth.ErrTokenSignature):
				unauthorized(w, "token signature invalid")
			default:
				unauthorized(w, "token malformed")
			}
			return
		}

		ctx := auth.WithClaims(r.Context(), claims)
		ctx = logging.WithSubjectID(ctx, claims.SubjectID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole wraps RequireSession and additionally enforces a minimum role
// via the authorization policy.
func (a *SessionAuthenticator) RequireRole(minRole auth.Role, next http.Handler) http.Handler {
	return a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}
		if err := auth.RequireRole(claims, minRole); err != nil {
			reason, _ := auth.IsForbidden(err)
			slog.Warn("Request denied by role policy",
				"subject_id", claims.SubjectID, "reason", string(reason))
			forbidden(w, reason)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, map[string]string{"error": msg})
}

func forbidden(w http.ResponseWriter, reason auth.ForbiddenReason) {
	writeJSONError(w, http.StatusForbidden, map[string]string{
		"error":  "forbidden",
		"reason": string(reason),
	})
}

func writeJSONError(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode error response", "err", err)
	}
}
