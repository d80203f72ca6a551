package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/testflow/api/internal/audit"
	"github.com/testflow/api/internal/db"
)

// Lockout thresholds for the password grant.
const (
	maxFailedLogins = 5
	lockoutWindow   = 15 * time.Minute
)

// TokenResponse is an OAuth 2.0 style token response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // Seconds until expiration
	TokenType   string `json:"token_type"` // Always "Bearer"
}

// Issuer mints session tokens. Every mint re-resolves tenant context from
// the membership store, so role changes take effect on the next renewal.
type Issuer struct {
	db               db.Querier
	codec            *Codec
	resolver         *Resolver
	recorder         *audit.Recorder
	sessionTTL       time.Duration
	impersonationTTL time.Duration
	now              func() time.Time
}

// NewIssuer creates a new token issuer.
func NewIssuer(querier db.Querier, codec *Codec, resolver *Resolver, recorder *audit.Recorder, sessionTTL, impersonationTTL time.Duration) *Issuer {
	return &Issuer{
		db:               querier,
		codec:            codec,
		resolver:         resolver,
		recorder:         recorder,
		sessionTTL:       sessionTTL,
		impersonationTTL: impersonationTTL,
		now:              time.Now,
	}
}

// Login authenticates with email and password and mints a fresh session.
// Unknown email and wrong password both return ErrInvalidCredentials; five
// failures inside the lockout window return ErrTooManyAttempts until the
// window passes.
func (ti *Issuer) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := ti.db.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if user.FailedLoginAttempts >= maxFailedLogins &&
		user.LastFailedLoginAt.Valid &&
		ti.now().Sub(user.LastFailedLoginAt.Time) < lockoutWindow {
		return nil, ErrTooManyAttempts
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		_ = ti.db.IncrementFailedLoginAttempts(ctx, user.ID)
		ti.recorder.Log(ctx, audit.Record{
			EntityType:  audit.UserEntityType,
			EntityID:    user.PublicID,
			Action:      audit.UserLoginFailure,
			PerformedBy: &user.ID,
			Details:     map[string]any{"error": "invalid credentials"},
		})
		return nil, ErrInvalidCredentials
	}

	_ = ti.db.ResetFailedLoginAttempts(ctx, user.ID)

	resp, acct, err := ti.mint(ctx, user, uuid.NewString(), ti.sessionTTL, nil)
	if err != nil {
		return nil, err
	}

	rec := audit.Record{
		EntityType:  audit.UserEntityType,
		EntityID:    user.PublicID,
		Action:      audit.UserLoginSuccess,
		PerformedBy: &user.ID,
	}
	if acct != nil {
		rec.AccountID = &acct.AccountID
	}
	ti.recorder.Log(ctx, rec)

	return resp, nil
}

// Refresh re-mints a session for the bearer, preserving the token family.
// Tenant context is resolved anew, so a role change or primary-account
// reassignment committed since the last mint is picked up here. Impersonated
// sessions cannot be refreshed; they expire.
func (ti *Issuer) Refresh(ctx context.Context, current *Claims) (*TokenResponse, error) {
	if current.IsImpersonated() {
		return nil, Forbidden(ReasonImpersonationActive)
	}

	user, err := ti.db.GetUserByPublicID(ctx, current.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	resp, acct, err := ti.mint(ctx, user, current.TokenFamilyID, ti.sessionTTL, nil)
	if err != nil {
		return nil, err
	}

	rec := audit.Record{
		EntityType:  audit.UserEntityType,
		EntityID:    user.PublicID,
		Action:      audit.TokenRefresh,
		PerformedBy: &user.ID,
	}
	if acct != nil {
		rec.AccountID = &acct.AccountID
	}
	ti.recorder.Log(ctx, rec)

	return resp, nil
}

// IssueForSubject mints a fresh session for a subject already authenticated
// out-of-band, e.g. by a validated device credential.
func (ti *Issuer) IssueForSubject(ctx context.Context, subjectID string) (*TokenResponse, error) {
	user, err := ti.db.GetUserByPublicID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	resp, _, err := ti.mint(ctx, user, uuid.NewString(), ti.sessionTTL, nil)
	return resp, err
}

// mint resolves the subject's primary account and encodes a token. A subject
// with no primary membership gets a token without tenant context.
func (ti *Issuer) mint(ctx context.Context, user db.User, familyID string, ttl time.Duration, imp *Impersonation) (*TokenResponse, *AccountContext, error) {
	acct, err := ti.resolver.ResolvePrimaryAccount(ctx, user.PublicID)
	if err != nil {
		return nil, nil, err
	}
	return ti.mintWithContext(user, familyID, ttl, acct, imp)
}

// mintWithContext encodes a token carrying the given tenant context (nil for
// none). It performs no I/O; context resolution happens before it.
func (ti *Issuer) mintWithContext(user db.User, familyID string, ttl time.Duration, acct *AccountContext, imp *Impersonation) (*TokenResponse, *AccountContext, error) {
	now := ti.now()
	claims := &Claims{
		SubjectID:     user.PublicID,
		Email:         user.Email,
		IsAdmin:       user.IsAdmin,
		IsSuperAdmin:  user.IsSuperAdmin,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
		TokenFamilyID: familyID,
		Impersonation: imp,
	}
	if acct != nil {
		claims.AccountID = acct.AccountPublicID
		claims.AccountRole = acct.Role
	}

	token, err := ti.codec.Encode(claims)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &TokenResponse{
		AccessToken: token,
		ExpiresIn:   int(ttl.Seconds()),
		TokenType:   "Bearer",
	}, acct, nil
}
