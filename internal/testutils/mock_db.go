// Package testutils provides shared test helpers.
package testutils

import (
	"context"
	"database/sql"

	"github.com/testflow/api/internal/db"
)

// MockQuerier is a mock implementation of the db.Querier interface for testing purposes.
type MockQuerier struct {
	GetUserByEmailFunc                func(ctx context.Context, email string) (db.User, error)
	GetUserByPublicIDFunc             func(ctx context.Context, publicID string) (db.User, error)
	IncrementFailedLoginAttemptsFunc  func(ctx context.Context, userID int64) error
	ResetFailedLoginAttemptsFunc      func(ctx context.Context, userID int64) error
	GetPrimaryMembershipFunc          func(ctx context.Context, userPublicID string) (db.GetPrimaryMembershipRow, error)
	GetMembershipFunc                 func(ctx context.Context, arg db.GetMembershipParams) (db.GetMembershipRow, error)
	LockDeviceCredentialsFunc         func(ctx context.Context, userID int64) error
	CreateDeviceCredentialFunc        func(ctx context.Context, arg db.CreateDeviceCredentialParams) error
	EvictDeviceCredentialsFunc        func(ctx context.Context, arg db.EvictDeviceCredentialsParams) (int64, error)
	GetDeviceCredentialByPublicIDFunc func(ctx context.Context, publicID string) (db.GetDeviceCredentialRow, error)
	ListDeviceCredentialsByUserFunc   func(ctx context.Context, userID int64) ([]db.DeviceCredential, error)
	RevokeDeviceCredentialFunc        func(ctx context.Context, publicID string) error
	TouchDeviceCredentialFunc         func(ctx context.Context, publicID string) error
	CreateAuditEventFunc              func(ctx context.Context, arg db.CreateAuditEventParams) error
	PurgeAuditEventsFunc              func(ctx context.Context, arg db.PurgeAuditEventsParams) (int64, error)
}

func (m *MockQuerier) GetUserByEmail(ctx context.Context, email string) (db.User, error) {
	if m.GetUserByEmailFunc != nil {
		return m.GetUserByEmailFunc(ctx, email)
	}
	return db.User{}, sql.ErrNoRows
}

func (m *MockQuerier) GetUserByPublicID(ctx context.Context, publicID string) (db.User, error) {
	if m.GetUserByPublicIDFunc != nil {
		return m.GetUserByPublicIDFunc(ctx, publicID)
	}
	return db.User{}, sql.ErrNoRows
}

func (m *MockQuerier) IncrementFailedLoginAttempts(ctx context.Context, userID int64) error {
	if m.IncrementFailedLoginAttemptsFunc != nil {
		return m.IncrementFailedLoginAttemptsFunc(ctx, userID)
	}
	return nil
}

func (m *MockQuerier) ResetFailedLoginAttempts(ctx context.Context, userID int64) error {
	if m.ResetFailedLoginAttemptsFunc != nil {
		return m.ResetFailedLoginAttemptsFunc(ctx, userID)
	}
	return nil
}

func (m *MockQuerier) GetPrimaryMembership(ctx context.Context, userPublicID string) (db.GetPrimaryMembershipRow, error) {
	if m.GetPrimaryMembershipFunc != nil {
		return m.GetPrimaryMembershipFunc(ctx, userPublicID)
	}
	return db.GetPrimaryMembershipRow{}, sql.ErrNoRows
}

func (m *MockQuerier) GetMembership(ctx context.Context, arg db.GetMembershipParams) (db.GetMembershipRow, error) {
	if m.GetMembershipFunc != nil {
		return m.GetMembershipFunc(ctx, arg)
	}
	return db.GetMembershipRow{}, sql.ErrNoRows
}

func (m *MockQuerier) LockDeviceCredentials(ctx context.Context, userID int64) error {
	if m.LockDeviceCredentialsFunc != nil {
		return m.LockDeviceCredentialsFunc(ctx, userID)
	}
	return nil
}

func (m *MockQuerier) CreateDeviceCredential(ctx context.Context, arg db.CreateDeviceCredentialParams) error {
	if m.CreateDeviceCredentialFunc != nil {
		return m.CreateDeviceCredentialFunc(ctx, arg)
	}
	return nil
}

func (m *MockQuerier) EvictDeviceCredentials(ctx context.Context, arg db.EvictDeviceCredentialsParams) (int64, error) {
	if m.EvictDeviceCredentialsFunc != nil {
		return m.EvictDeviceCredentialsFunc(ctx, arg)
	}
	return 0, nil
}

func (m *MockQuerier) GetDeviceCredentialByPublicID(ctx context.Context, publicID string) (db.GetDeviceCredentialRow, error) {
	if m.GetDeviceCredentialByPublicIDFunc != nil {
		return m.GetDeviceCredentialByPublicIDFunc(ctx, publicID)
	}
	return db.GetDeviceCredentialRow{}, sql.ErrNoRows
}

func (m *MockQuerier) ListDeviceCredentialsByUser(ctx context.Context, userID int64) ([]db.DeviceCredential, error) {
	if m.ListDeviceCredentialsByUserFunc != nil {
		return m.ListDeviceCredentialsByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockQuerier) RevokeDeviceCredential(ctx context.Context, publicID string) error {
	if m.RevokeDeviceCredentialFunc != nil {
		return m.RevokeDeviceCredentialFunc(ctx, publicID)
	}
	return nil
}

func (m *MockQuerier) TouchDeviceCredential(ctx context.Context, publicID string) error {
	if m.TouchDeviceCredentialFunc != nil {
		return m.TouchDeviceCredentialFunc(ctx, publicID)
	}
	return nil
}

func (m *MockQuerier) CreateAuditEvent(ctx context.Context, arg db.CreateAuditEventParams) error {
	if m.CreateAuditEventFunc != nil {
		return m.CreateAuditEventFunc(ctx, arg)
	}
	return nil
}

func (m *MockQuerier) PurgeAuditEvents(ctx context.Context, arg db.PurgeAuditEventsParams) (int64, error) {
	if m.PurgeAuditEventsFunc != nil {
		return m.PurgeAuditEventsFunc(ctx, arg)
	}
	return 0, nil
}
