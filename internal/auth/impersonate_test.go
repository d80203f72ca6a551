package auth

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testflow/api/internal/audit"
	"github.com/testflow/api/internal/db"
	"github.com/testflow/api/internal/testutils"
)

func impersonationFixture(t *testing.T) (*testutils.MockQuerier, db.User, db.User) {
	actor := db.User{ID: 1, PublicID: "sub-admin", Email: "admin@example.com", IsSuperAdmin: true}
	target := db.User{ID: 2, PublicID: "sub-target", Email: "target@example.com"}
	target.PasswordHash = hashPassword(t, "irrelevant")

	q := &testutils.MockQuerier{
		GetUserByPublicIDFunc: func(ctx context.Context, publicID string) (db.User, error) {
			switch publicID {
			case actor.PublicID:
				return actor, nil
			case target.PublicID:
				return target, nil
			}
			return db.User{}, sql.ErrNoRows
		},
		GetPrimaryMembershipFunc: func(ctx context.Context, userPublicID string) (db.GetPrimaryMembershipRow, error) {
			if userPublicID == target.PublicID {
				return db.GetPrimaryMembershipRow{AccountID: 50, AccountPublicID: "acct-y", Role: "member"}, nil
			}
			return db.GetPrimaryMembershipRow{}, sql.ErrNoRows
		},
	}
	return q, actor, target
}

// TestImpersonate verifies that a super admin impersonating a subject gets
// a token under the target identity with the target's role, a shorter
// lifetime, a new token family, and that exactly one sensitive audit record
// is produced naming both identities.
func TestImpersonate(t *testing.T) {
	q, actor, target := impersonationFixture(t)
	issuer, appender := newTestIssuer(q)

	actorClaims := &Claims{
		SubjectID:     actor.PublicID,
		IsSuperAdmin:  true,
		TokenFamilyID: "fam-actor",
	}

	resp, err := issuer.Impersonate(context.Background(), actorClaims, target.PublicID)
	require.NoError(t, err)
	assert.Equal(t, int((15 * time.Minute).Seconds()), resp.ExpiresIn)

	claims, err := issuer.codec.Decode(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, target.PublicID, claims.SubjectID)
	assert.Equal(t, "acct-y", claims.AccountID)
	assert.Equal(t, RoleMember, claims.AccountRole)
	assert.False(t, claims.IsSuperAdmin)
	assert.NotEqual(t, "fam-actor", claims.TokenFamilyID)
	require.NotNil(t, claims.Impersonation)
	assert.Equal(t, actor.PublicID, claims.Impersonation.ImpersonatedBy)

	// Authorization under the impersonated token evaluates the target's role.
	assert.NoError(t, RequireRole(claims, RoleMember))
	reason, ok := IsForbidden(RequireRole(claims, RoleAdmin))
	require.True(t, ok)
	assert.Equal(t, ReasonInsufficientRole, reason)

	recs := appender.byAction(audit.Impersonate)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsSensitive)
	assert.Equal(t, target.PublicID, recs[0].EntityID)
	require.NotNil(t, recs[0].PerformedBy)
	assert.Equal(t, actor.ID, *recs[0].PerformedBy)
	assert.Equal(t, actor.PublicID, recs[0].Details["actor_subject_id"])
}

// TestImpersonate_NotSuperAdmin verifies that anyone short of a super admin
// is rejected with not_super_admin; the is_admin flag is not enough.
func TestImpersonate_NotSuperAdmin(t *testing.T) {
	q, _, target := impersonationFixture(t)
	issuer, appender := newTestIssuer(q)

	actorClaims := &Claims{SubjectID: "sub-plain", IsAdmin: true}

	_, err := issuer.Impersonate(context.Background(), actorClaims, target.PublicID)
	reason, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotSuperAdmin, reason)
	assert.Empty(t, appender.byAction(audit.Impersonate))
	assert.Len(t, appender.byAction(audit.AuthorizationFailure), 1)
}

// TestImpersonate_Nested verifies that impersonating while already
// impersonating is rejected.
func TestImpersonate_Nested(t *testing.T) {
	q, actor, target := impersonationFixture(t)
	issuer, _ := newTestIssuer(q)

	actorClaims := &Claims{
		SubjectID:     actor.PublicID,
		IsSuperAdmin:  true,
		Impersonation: &Impersonation{ImpersonatedBy: "sub-other", StartedAt: time.Now()},
	}

	_, err := issuer.Impersonate(context.Background(), actorClaims, target.PublicID)
	reason, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonImpersonationActive, reason)
}

// TestImpersonate_SuperAdminTarget verifies that a super admin cannot be
// impersonated, even by another super admin.
func TestImpersonate_SuperAdminTarget(t *testing.T) {
	q, actor, _ := impersonationFixture(t)
	other := db.User{ID: 3, PublicID: "sub-admin2", IsSuperAdmin: true}
	base := q.GetUserByPublicIDFunc
	q.GetUserByPublicIDFunc = func(ctx context.Context, publicID string) (db.User, error) {
		if publicID == other.PublicID {
			return other, nil
		}
		return base(ctx, publicID)
	}
	issuer, _ := newTestIssuer(q)

	actorClaims := &Claims{SubjectID: actor.PublicID, IsSuperAdmin: true}

	_, err := issuer.Impersonate(context.Background(), actorClaims, other.PublicID)
	reason, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonTargetIsSuperAdmin, reason)
}

// TestImpersonate_UnknownTarget verifies that an unknown target subject is
// reported as not found.
func TestImpersonate_UnknownTarget(t *testing.T) {
	q, actor, _ := impersonationFixture(t)
	issuer, _ := newTestIssuer(q)

	actorClaims := &Claims{SubjectID: actor.PublicID, IsSuperAdmin: true}

	_, err := issuer.Impersonate(context.Background(), actorClaims, "sub-ghost")
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}
