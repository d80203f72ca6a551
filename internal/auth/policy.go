package auth

// The policy functions are pure and perform no I/O; they compose as ordered
// guards in front of any tenant-scoped operation. A super admin passes every
// check, but only through the explicit flag test here, never inferred.

// RequireRole succeeds when the claims carry a role at or above minRole in
// the total order viewer < member < admin < owner, or when the bearer is a
// super admin. Claims without tenant context fail with
// missing_account_context; a present but insufficient role fails with
// insufficient_role.
func RequireRole(claims *Claims, minRole Role) error {
	if claims.IsSuperAdmin {
		return nil
	}
	if !claims.HasAccountContext() {
		return Forbidden(ReasonMissingAccountContext)
	}
	if claims.AccountRole.Level() >= minRole.Level() {
		return nil
	}
	return Forbidden(ReasonInsufficientRole)
}

// ValidateAccountAccess succeeds when the claims are scoped to the requested
// account, or when the bearer is a super admin. Claims without tenant
// context fail with missing_account_context rather than defaulting to any
// account; a mismatch fails with cross_account_access.
func ValidateAccountAccess(claims *Claims, requestedAccountID string) error {
	if claims.IsSuperAdmin {
		return nil
	}
	if !claims.HasAccountContext() {
		return Forbidden(ReasonMissingAccountContext)
	}
	if claims.AccountID == requestedAccountID {
		return nil
	}
	return Forbidden(ReasonCrossAccountAccess)
}
