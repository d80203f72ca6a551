package db

import "context"

// Querier is the query surface consumed by the auth and audit packages.
// It is implemented by Queries and by testutils.MockQuerier.
type Querier interface {
	// Users
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByPublicID(ctx context.Context, publicID string) (User, error)
	IncrementFailedLoginAttempts(ctx context.Context, userID int64) error
	ResetFailedLoginAttempts(ctx context.Context, userID int64) error

	// Memberships (the membership store)
	GetPrimaryMembership(ctx context.Context, userPublicID string) (GetPrimaryMembershipRow, error)
	GetMembership(ctx context.Context, arg GetMembershipParams) (GetMembershipRow, error)

	// Device credentials (the credential store)
	LockDeviceCredentials(ctx context.Context, userID int64) error
	CreateDeviceCredential(ctx context.Context, arg CreateDeviceCredentialParams) error
	EvictDeviceCredentials(ctx context.Context, arg EvictDeviceCredentialsParams) (int64, error)
	GetDeviceCredentialByPublicID(ctx context.Context, publicID string) (GetDeviceCredentialRow, error)
	ListDeviceCredentialsByUser(ctx context.Context, userID int64) ([]DeviceCredential, error)
	RevokeDeviceCredential(ctx context.Context, publicID string) error
	TouchDeviceCredential(ctx context.Context, publicID string) error

	// Audit (the audit store)
	CreateAuditEvent(ctx context.Context, arg CreateAuditEventParams) error
	PurgeAuditEvents(ctx context.Context, arg PurgeAuditEventsParams) (int64, error)
}

var _ Querier = (*Queries)(nil)
