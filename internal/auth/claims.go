// Package auth provides the identity, authorization and token-lifecycle
// core: the signed claims model, role-hierarchy policy, account context
// resolution and switching, impersonation, and device-credential rotation.
package auth

import (
	"context"
	"time"
)

// contextKey is a private type for context values set by this package.
type contextKey string

// ClaimsContextKey is where the bearer middleware stores decoded claims.
const ClaimsContextKey contextKey = "testflow_claims"

// Impersonation records that a token was minted under another subject's
// identity by a privileged actor.
type Impersonation struct {
	ImpersonatedBy string    `json:"impersonated_by"`
	StartedAt      time.Time `json:"impersonation_started_at"`
}

// Claims are the decoded contents of a session token. A token either
// carries full tenant context (AccountID and AccountRole both set) or none
// (both zero); tokens minted before accounts existed decode to the latter.
// Claims are immutable once issued; tenant context changes by re-minting.
type Claims struct {
	SubjectID     string
	Email         string
	IsAdmin       bool
	IsSuperAdmin  bool
	AccountID     string
	AccountRole   Role
	IssuedAt      time.Time
	ExpiresAt     time.Time
	TokenFamilyID string
	Impersonation *Impersonation
}

// HasAccountContext reports whether the claims carry tenant context.
func (c *Claims) HasAccountContext() bool {
	return c.AccountID != "" && c.AccountRole.Valid()
}

// IsImpersonated reports whether the token was minted by impersonation.
func (c *Claims) IsImpersonated() bool {
	return c.Impersonation != nil
}

// WithClaims returns a context carrying the decoded claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// ClaimsFromContext extracts decoded claims set by the bearer middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}
