package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/testflow/api/internal/audit"
)

// SwitchAccount re-mints the bearer's session for a different account. It
// requires an active membership in the target account and never requires
// re-authentication: it is a context re-mint on top of a valid session. The
// token family is preserved so refresh continuity is unaffected. Switching
// while impersonating stays under the impersonated identity and keeps the
// shorter impersonation lifetime.
func (ti *Issuer) SwitchAccount(ctx context.Context, current *Claims, targetAccountID string) (*TokenResponse, error) {
	acct, err := ti.resolver.ResolveMembership(ctx, current.SubjectID, targetAccountID)
	if err != nil {
		return nil, err
	}

	user, err := ti.db.GetUserByPublicID(ctx, current.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ttl := ti.sessionTTL
	if current.IsImpersonated() {
		ttl = ti.impersonationTTL
	}

	resp, _, err := ti.mintWithContext(user, current.TokenFamilyID, ttl, acct, current.Impersonation)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"after": targetAccountID,
	}
	if current.AccountID != "" {
		details["before"] = current.AccountID
	}
	if current.IsImpersonated() {
		details["impersonated_by"] = current.Impersonation.ImpersonatedBy
	}
	ti.recorder.Log(ctx, audit.Record{
		EntityType:  audit.AccountEntityType,
		EntityID:    targetAccountID,
		Action:      audit.AccountSwitch,
		PerformedBy: &user.ID,
		AccountID:   &acct.AccountID,
		Details:     details,
	})

	return resp, nil
}
