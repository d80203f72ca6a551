package auth

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/testflow/api/internal/db"
)

var (
	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "testflow_tokens_issued_total",
		Help: "Number of session tokens issued, by grant type.",
	}, []string{"grant"})
	authzDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testflow_authz_denials_total",
		Help: "Number of requests denied by authorization policy.",
	})
)

// TokenRequest represents an OAuth 2.0 token request.
// Supports multiple grant types following RFC 6749.
type TokenRequest struct {
	GrantType string `json:"grant_type"` // "password", "refresh_token", "device_credential"

	// For grant_type=password
	Username string `json:"username,omitempty"` // email
	Password string `json:"password,omitempty"`

	// For grant_type=refresh_token
	RefreshToken string `json:"refresh_token,omitempty"`

	// For grant_type=device_credential
	DeviceCredential string `json:"device_credential,omitempty"`
}

// Handler serves the auth endpoints: token issuance, account switching,
// impersonation and device-credential management.
type Handler struct {
	issuer      *Issuer
	codec       *Codec
	credManager *DeviceCredentialManager
	db          db.Querier
}

// NewHandler creates a new auth handler.
func NewHandler(issuer *Issuer, codec *Codec, credManager *DeviceCredentialManager, querier db.Querier) *Handler {
	return &Handler{
		issuer:      issuer,
		codec:       codec,
		credManager: credManager,
		db:          querier,
	}
}

// HandleToken is the token endpoint
// POST /auth/token
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var resp *TokenResponse
	var err error

	switch req.GrantType {
	case "password":
		resp, err = h.issuer.Login(r.Context(), req.Username, req.Password)
	case "refresh_token":
		resp, err = h.handleRefreshGrant(r, req.RefreshToken)
	case "device_credential":
		resp, err = h.handleDeviceCredentialGrant(r, req.DeviceCredential)
	default:
		http.Error(w, fmt.Sprintf("Unsupported grant_type: %s", req.GrantType), http.StatusBadRequest)
		return
	}

	if err != nil {
		slog.Error("Token grant failed", "grant_type", req.GrantType, "err", err)
		h.writeError(w, err)
		return
	}

	tokensIssued.WithLabelValues(req.GrantType).Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefreshGrant(r *http.Request, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrTokenMalformed
	}
	claims, err := h.codec.Decode(refreshToken)
	if err != nil {
		return nil, err
	}
	return h.issuer.Refresh(r.Context(), claims)
}

func (h *Handler) handleDeviceCredentialGrant(r *http.Request, credential string) (*TokenResponse, error) {
	if credential == "" {
		return nil, ErrCredentialNotFound
	}
	subjectID, err := h.credManager.Validate(r.Context(), credential)
	if err != nil {
		return nil, err
	}
	return h.issuer.IssueForSubject(r.Context(), subjectID)
}

// switchRequest is the body for POST /auth/switch.
type switchRequest struct {
	AccountID string `json:"account_id"`
}

// HandleSwitch re-mints the session for another account
// POST /auth/switch
func (h *Handler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	resp, err := h.issuer.SwitchAccount(r.Context(), claims, req.AccountID)
	if err != nil {
		slog.Warn("Account switch failed", "subject_id", claims.SubjectID, "target", req.AccountID, "err", err)
		h.writeError(w, err)
		return
	}

	tokensIssued.WithLabelValues("switch").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// impersonateRequest is the body for POST /auth/impersonate.
type impersonateRequest struct {
	SubjectID string `json:"subject_id"`
}

// HandleImpersonate mints a session under another subject's identity
// POST /auth/impersonate
func (h *Handler) HandleImpersonate(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req impersonateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectID == "" {
		http.Error(w, "subject_id is required", http.StatusBadRequest)
		return
	}

	resp, err := h.issuer.Impersonate(r.Context(), claims, req.SubjectID)
	if err != nil {
		slog.Warn("Impersonation failed", "actor", claims.SubjectID, "target", req.SubjectID, "err", err)
		h.writeError(w, err)
		return
	}

	tokensIssued.WithLabelValues("impersonate").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// createCredentialRequest is the body for POST /auth/credentials.
type createCredentialRequest struct {
	DeviceInfo string `json:"device_info"`
}

// credentialResponse is the JSON view of a credential; the secret hash is
// never included.
type credentialResponse struct {
	CredentialID string     `json:"credential_id"`
	DeviceInfo   string     `json:"device_info"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HandleCreateCredential issues a new device credential for the bearer
// POST /auth/credentials
func (h *Handler) HandleCreateCredential(w http.ResponseWriter, r *http.Request) {
	claims, user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	issued, err := h.credManager.Issue(r.Context(), user.ID, req.DeviceInfo)
	if err != nil {
		slog.Error("Credential issuance failed", "subject_id", claims.SubjectID, "err", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"credential":    issued.Secret, // only shown once
		"credential_id": issued.PublicID,
		"expires_at":    issued.ExpiresAt,
		"evicted":       issued.Evicted,
	})
}

// HandleListCredentials lists the bearer's device credentials
// GET /auth/credentials
func (h *Handler) HandleListCredentials(w http.ResponseWriter, r *http.Request) {
	_, user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	creds, err := h.credManager.List(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]credentialResponse, 0, len(creds))
	for _, c := range creds {
		resp := credentialResponse{
			CredentialID: c.PublicID,
			DeviceInfo:   c.DeviceInfo,
			ExpiresAt:    c.ExpiresAt,
			IsActive:     c.IsActive,
			CreatedAt:    c.CreatedAt,
		}
		if c.LastUsedAt.Valid {
			t := c.LastUsedAt.Time
			resp.LastUsedAt = &t
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": out})
}

// HandleRevokeCredential revokes one of the bearer's device credentials
// DELETE /auth/credentials/{credential_id}
func (h *Handler) HandleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	claims, user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	credID := r.PathValue("credential_id")
	row, err := h.credManager.Get(r.Context(), credID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.writeError(w, err)
		return
	}

	// Respond not-found rather than forbidden so credential IDs of other
	// subjects are not confirmed to exist.
	if row.UserPublicID != claims.SubjectID && !claims.IsSuperAdmin {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrCredentialNotFound.Error()})
		return
	}

	if err := h.credManager.Revoke(r.Context(), credID, &user.ID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireUser loads the bearer's user row. Claims carry the public ID;
// credential operations need the internal one.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*Claims, db.User, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, db.User{}, false
	}

	user, err := h.db.GetUserByPublicID(r.Context(), claims.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		} else {
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return nil, db.User{}, false
	}
	return claims, user, true
}

// writeError maps the error taxonomy onto HTTP statuses. The mapping is
// fail-closed: anything unrecognized is an internal error, never a pass.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if reason, ok := IsForbidden(err); ok {
		authzDenials.Inc()
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  "forbidden",
			"reason": string(reason),
		})
		return
	}

	switch {
	case errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenSignature),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrCredentialNotFound),
		errors.Is(err, ErrCredentialExpired),
		errors.Is(err, ErrCredentialRevoked):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrSubjectNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}
