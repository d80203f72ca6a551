package db

import (
	"context"
)

const getUserByEmail = `
SELECT id, public_id, email, name, password_hash, is_admin, is_super_admin,
       failed_login_attempts, last_failed_login_at, created_at, updated_at
FROM users
WHERE email = ?
`

// GetUserByEmail looks a user up by email address.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var u User
	err := row.Scan(
		&u.ID, &u.PublicID, &u.Email, &u.Name, &u.PasswordHash,
		&u.IsAdmin, &u.IsSuperAdmin, &u.FailedLoginAttempts,
		&u.LastFailedLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

const getUserByPublicID = `
SELECT id, public_id, email, name, password_hash, is_admin, is_super_admin,
       failed_login_attempts, last_failed_login_at, created_at, updated_at
FROM users
WHERE public_id = ?
`

// GetUserByPublicID looks a user up by public UUID.
func (q *Queries) GetUserByPublicID(ctx context.Context, publicID string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByPublicID, publicID)
	var u User
	err := row.Scan(
		&u.ID, &u.PublicID, &u.Email, &u.Name, &u.PasswordHash,
		&u.IsAdmin, &u.IsSuperAdmin, &u.FailedLoginAttempts,
		&u.LastFailedLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

const incrementFailedLoginAttempts = `
UPDATE users
SET failed_login_attempts = failed_login_attempts + 1,
    last_failed_login_at = NOW()
WHERE id = ?
`

// IncrementFailedLoginAttempts bumps the failed-login counter for a user.
func (q *Queries) IncrementFailedLoginAttempts(ctx context.Context, userID int64) error {
	_, err := q.db.ExecContext(ctx, incrementFailedLoginAttempts, userID)
	return err
}

const resetFailedLoginAttempts = `
UPDATE users
SET failed_login_attempts = 0,
    last_failed_login_at = NULL
WHERE id = ?
`

// ResetFailedLoginAttempts clears the failed-login counter for a user.
func (q *Queries) ResetFailedLoginAttempts(ctx context.Context, userID int64) error {
	_, err := q.db.ExecContext(ctx, resetFailedLoginAttempts, userID)
	return err
}

const getPrimaryMembership = `
SELECT a.id, a.public_id, m.role
FROM account_memberships m
JOIN users u ON u.id = m.user_id
JOIN accounts a ON a.id = m.account_id
WHERE u.public_id = ? AND m.is_primary = 1 AND m.is_active = 1
`

// GetPrimaryMembership returns the single active primary membership of a
// user, or sql.ErrNoRows when the user has no tenant context.
func (q *Queries) GetPrimaryMembership(ctx context.Context, userPublicID string) (GetPrimaryMembershipRow, error) {
	row := q.db.QueryRowContext(ctx, getPrimaryMembership, userPublicID)
	var r GetPrimaryMembershipRow
	err := row.Scan(&r.AccountID, &r.AccountPublicID, &r.Role)
	return r, err
}

const getMembership = `
SELECT a.id, a.public_id, m.role
FROM account_memberships m
JOIN users u ON u.id = m.user_id
JOIN accounts a ON a.id = m.account_id
WHERE u.public_id = ? AND a.public_id = ? AND m.is_active = 1
`

// GetMembership returns the active membership of a user in an account,
// or sql.ErrNoRows when the user is not an active member.
func (q *Queries) GetMembership(ctx context.Context, arg GetMembershipParams) (GetMembershipRow, error) {
	row := q.db.QueryRowContext(ctx, getMembership, arg.UserPublicID, arg.AccountPublicID)
	var r GetMembershipRow
	err := row.Scan(&r.AccountID, &r.AccountPublicID, &r.Role)
	return r, err
}

const lockDeviceCredentials = `
SELECT id
FROM device_credentials
WHERE user_id = ? AND is_active = 1
FOR UPDATE
`

// LockDeviceCredentials takes row locks on a user's active credentials so
// that concurrent issuances for the same user serialize. Must run inside a
// transaction.
func (q *Queries) LockDeviceCredentials(ctx context.Context, userID int64) error {
	rows, err := q.db.QueryContext(ctx, lockDeviceCredentials, userID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
	}
	return rows.Err()
}

const createDeviceCredential = `
INSERT INTO device_credentials (public_id, user_id, secret_hash, device_info, expires_at, is_active)
VALUES (?, ?, ?, ?, ?, 1)
`

// CreateDeviceCredential inserts a new active credential.
func (q *Queries) CreateDeviceCredential(ctx context.Context, arg CreateDeviceCredentialParams) error {
	_, err := q.db.ExecContext(ctx, createDeviceCredential,
		arg.PublicID, arg.UserID, arg.SecretHash, arg.DeviceInfo, arg.ExpiresAt)
	return err
}

const evictDeviceCredentials = `
UPDATE device_credentials dc
JOIN (
    SELECT id
    FROM device_credentials
    WHERE user_id = ? AND is_active = 1
    ORDER BY created_at DESC, id DESC
    LIMIT ?, 1000000
) stale ON stale.id = dc.id
SET dc.is_active = 0, dc.revoked_at = NOW(6)
`

// EvictDeviceCredentials revokes every active credential beyond the Keep
// most recent for a user and reports how many were revoked. Must run in the
// same transaction as the insert that may have breached the bound.
func (q *Queries) EvictDeviceCredentials(ctx context.Context, arg EvictDeviceCredentialsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, evictDeviceCredentials, arg.UserID, arg.Keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getDeviceCredentialByPublicID = `
SELECT dc.id, dc.public_id, dc.user_id, dc.secret_hash, dc.device_info,
       dc.expires_at, dc.last_used_at, dc.is_active, dc.revoked_at, dc.created_at,
       u.public_id
FROM device_credentials dc
JOIN users u ON u.id = dc.user_id
WHERE dc.public_id = ?
`

// GetDeviceCredentialByPublicID fetches a credential with its owner's public ID.
func (q *Queries) GetDeviceCredentialByPublicID(ctx context.Context, publicID string) (GetDeviceCredentialRow, error) {
	row := q.db.QueryRowContext(ctx, getDeviceCredentialByPublicID, publicID)
	var r GetDeviceCredentialRow
	err := row.Scan(
		&r.ID, &r.PublicID, &r.UserID, &r.SecretHash, &r.DeviceInfo,
		&r.ExpiresAt, &r.LastUsedAt, &r.IsActive, &r.RevokedAt, &r.CreatedAt,
		&r.UserPublicID,
	)
	return r, err
}

const listDeviceCredentialsByUser = `
SELECT id, public_id, user_id, secret_hash, device_info,
       expires_at, last_used_at, is_active, revoked_at, created_at
FROM device_credentials
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
`

// ListDeviceCredentialsByUser lists a user's credentials, newest first.
func (q *Queries) ListDeviceCredentialsByUser(ctx context.Context, userID int64) ([]DeviceCredential, error) {
	rows, err := q.db.QueryContext(ctx, listDeviceCredentialsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var creds []DeviceCredential
	for rows.Next() {
		var c DeviceCredential
		if err := rows.Scan(
			&c.ID, &c.PublicID, &c.UserID, &c.SecretHash, &c.DeviceInfo,
			&c.ExpiresAt, &c.LastUsedAt, &c.IsActive, &c.RevokedAt, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

const revokeDeviceCredential = `
UPDATE device_credentials
SET is_active = 0, revoked_at = NOW(6)
WHERE public_id = ? AND is_active = 1
`

// RevokeDeviceCredential deactivates a credential regardless of age.
func (q *Queries) RevokeDeviceCredential(ctx context.Context, publicID string) error {
	_, err := q.db.ExecContext(ctx, revokeDeviceCredential, publicID)
	return err
}

const touchDeviceCredential = `
UPDATE device_credentials
SET last_used_at = NOW()
WHERE public_id = ?
`

// TouchDeviceCredential updates the last-used timestamp of a credential.
func (q *Queries) TouchDeviceCredential(ctx context.Context, publicID string) error {
	_, err := q.db.ExecContext(ctx, touchDeviceCredential, publicID)
	return err
}

const createAuditEvent = `
INSERT INTO audit_events (entity_type, entity_id, action, performed_by, account_id,
                          source_ip, user_agent, details, is_sensitive)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// CreateAuditEvent appends one audit record.
func (q *Queries) CreateAuditEvent(ctx context.Context, arg CreateAuditEventParams) error {
	_, err := q.db.ExecContext(ctx, createAuditEvent,
		arg.EntityType, arg.EntityID, arg.Action, arg.PerformedBy, arg.AccountID,
		arg.SourceIP, arg.UserAgent, arg.Details, arg.IsSensitive)
	return err
}

const purgeAuditEvents = `
DELETE FROM audit_events
WHERE is_sensitive = ? AND created_at < ?
`

// PurgeAuditEvents deletes records of one sensitivity class older than the
// cutoff. Re-running with the same arguments deletes nothing further, so the
// purge is idempotent.
func (q *Queries) PurgeAuditEvents(ctx context.Context, arg PurgeAuditEventsParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, purgeAuditEvents, arg.IsSensitive, arg.Before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
