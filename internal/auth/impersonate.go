package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/testflow/api/internal/audit"
)

// Impersonate mints a session under the target subject's identity for a
// super admin. The resulting token carries the target's tenant context and
// an impersonation block naming the actor; every authorization check under
// it evaluates the target's claims. Nested impersonation and impersonation
// of another super admin are rejected. Successful impersonation always
// produces a sensitive audit record; that record is never optional.
func (ti *Issuer) Impersonate(ctx context.Context, actor *Claims, targetSubjectID string) (*TokenResponse, error) {
	if !actor.IsSuperAdmin {
		ti.logImpersonationDenied(ctx, actor, targetSubjectID, ReasonNotSuperAdmin)
		return nil, Forbidden(ReasonNotSuperAdmin)
	}
	if actor.IsImpersonated() {
		ti.logImpersonationDenied(ctx, actor, targetSubjectID, ReasonImpersonationActive)
		return nil, Forbidden(ReasonImpersonationActive)
	}

	target, err := ti.db.GetUserByPublicID(ctx, targetSubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to look up target subject: %w", err)
	}
	if target.IsSuperAdmin {
		ti.logImpersonationDenied(ctx, actor, targetSubjectID, ReasonTargetIsSuperAdmin)
		return nil, Forbidden(ReasonTargetIsSuperAdmin)
	}

	imp := &Impersonation{
		ImpersonatedBy: actor.SubjectID,
		StartedAt:      ti.now(),
	}

	// New token family: the impersonated session must not extend the
	// actor's refresh lineage, and it cannot be refreshed at all.
	resp, acct, err := ti.mint(ctx, target, uuid.NewString(), ti.impersonationTTL, imp)
	if err != nil {
		return nil, err
	}

	rec := audit.Record{
		EntityType:  audit.UserEntityType,
		EntityID:    target.PublicID,
		Action:      audit.Impersonate,
		IsSensitive: true,
		Details: map[string]any{
			"actor_subject_id":  actor.SubjectID,
			"target_subject_id": target.PublicID,
		},
	}
	if actorUser, err := ti.db.GetUserByPublicID(ctx, actor.SubjectID); err == nil {
		rec.PerformedBy = &actorUser.ID
	}
	if acct != nil {
		rec.AccountID = &acct.AccountID
	}
	ti.recorder.Log(ctx, rec)

	return resp, nil
}

func (ti *Issuer) logImpersonationDenied(ctx context.Context, actor *Claims, targetSubjectID string, reason ForbiddenReason) {
	ti.recorder.Log(ctx, audit.Record{
		EntityType: audit.UserEntityType,
		EntityID:   targetSubjectID,
		Action:     audit.AuthorizationFailure,
		Details: map[string]any{
			"actor_subject_id": actor.SubjectID,
			"operation":        "impersonate",
			"reason":           string(reason),
		},
	})
}
