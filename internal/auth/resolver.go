package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/testflow/api/internal/db"
)

// AccountContext is the tenant context a freshly minted token should carry.
type AccountContext struct {
	AccountID       int64
	AccountPublicID string
	Role            Role
}

// Resolver reads the membership store to produce tenant context for new
// tokens. It is consulted at login and at every refresh, so a role change or
// primary-account reassignment takes effect on the subject's next renewal.
type Resolver struct {
	db db.Querier
}

// NewResolver creates a new account context resolver.
func NewResolver(querier db.Querier) *Resolver {
	return &Resolver{db: querier}
}

// ResolvePrimaryAccount returns the subject's active primary membership, or
// nil when the subject has no tenant context. Callers mint claims without
// account fields in the nil case; no account is ever fabricated.
func (r *Resolver) ResolvePrimaryAccount(ctx context.Context, subjectID string) (*AccountContext, error) {
	row, err := r.db.GetPrimaryMembership(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve primary account: %w", err)
	}

	role, err := ParseRole(row.Role)
	if err != nil {
		return nil, fmt.Errorf("membership store returned invalid role: %w", err)
	}

	return &AccountContext{
		AccountID:       row.AccountID,
		AccountPublicID: row.AccountPublicID,
		Role:            role,
	}, nil
}

// ResolveMembership returns the subject's active membership in the given
// account, or Forbidden(not_a_member) when there is none.
func (r *Resolver) ResolveMembership(ctx context.Context, subjectID, accountPublicID string) (*AccountContext, error) {
	row, err := r.db.GetMembership(ctx, db.GetMembershipParams{
		UserPublicID:    subjectID,
		AccountPublicID: accountPublicID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Forbidden(ReasonNotAMember)
		}
		return nil, fmt.Errorf("failed to resolve membership: %w", err)
	}

	role, err := ParseRole(row.Role)
	if err != nil {
		return nil, fmt.Errorf("membership store returned invalid role: %w", err)
	}

	return &AccountContext{
		AccountID:       row.AccountID,
		AccountPublicID: row.AccountPublicID,
		Role:            role,
	}, nil
}
