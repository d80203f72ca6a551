package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

// User is a principal that can authenticate against the platform.
type User struct {
	ID                  int64
	PublicID            string
	Email               string
	Name                string
	PasswordHash        string
	IsAdmin             bool
	IsSuperAdmin        bool
	FailedLoginAttempts int32
	LastFailedLoginAt   sql.NullTime
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Account is a tenant. All test-automation entities hang off an account.
type Account struct {
	ID        int64
	PublicID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountMembership grants a user a role within an account.
type AccountMembership struct {
	ID        int64
	UserID    int64
	AccountID int64
	Role      string
	IsPrimary bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceCredential is a long-lived, individually revocable credential.
type DeviceCredential struct {
	ID         int64
	PublicID   string
	UserID     int64
	SecretHash string
	DeviceInfo string
	ExpiresAt  time.Time
	LastUsedAt sql.NullTime
	IsActive   bool
	RevokedAt  sql.NullTime
	CreatedAt  time.Time
}

// AuditEvent is an append-only audit record.
type AuditEvent struct {
	ID          int64
	EntityType  string
	EntityID    string
	Action      string
	PerformedBy sql.NullInt64
	AccountID   sql.NullInt64
	SourceIP    string
	UserAgent   string
	Details     json.RawMessage
	IsSensitive bool
	CreatedAt   time.Time
}

// GetPrimaryMembershipRow is the active primary membership of a user.
type GetPrimaryMembershipRow struct {
	AccountID       int64
	AccountPublicID string
	Role            string
}

// GetMembershipParams identifies a membership by public IDs.
type GetMembershipParams struct {
	UserPublicID    string
	AccountPublicID string
}

// GetMembershipRow is an active membership resolved through public IDs.
type GetMembershipRow struct {
	AccountID       int64
	AccountPublicID string
	Role            string
}

// CreateDeviceCredentialParams are the fields required to insert a credential.
type CreateDeviceCredentialParams struct {
	PublicID   string
	UserID     int64
	SecretHash string
	DeviceInfo string
	ExpiresAt  time.Time
}

// EvictDeviceCredentialsParams bounds active credentials for a user.
type EvictDeviceCredentialsParams struct {
	UserID int64
	Keep   int32
}

// GetDeviceCredentialRow is a credential joined with its owner's public ID.
type GetDeviceCredentialRow struct {
	DeviceCredential
	UserPublicID string
}

// CreateAuditEventParams are the fields required to append an audit record.
type CreateAuditEventParams struct {
	EntityType  string
	EntityID    string
	Action      string
	PerformedBy sql.NullInt64
	AccountID   sql.NullInt64
	SourceIP    string
	UserAgent   string
	Details     json.RawMessage
	IsSensitive bool
}

// PurgeAuditEventsParams selects records eligible for retention purge.
type PurgeAuditEventsParams struct {
	IsSensitive bool
	Before      time.Time
}
