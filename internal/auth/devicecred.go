package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/testflow/api/internal/audit"
	"github.com/testflow/api/internal/db"
)

// credentialPrefix marks device-credential secrets so the bearer middleware
// can tell them apart from session tokens.
const credentialPrefix = "testflow"

// TxBeginner starts database transactions. *sql.DB satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// DeviceCredentialManager issues, validates and revokes long-lived opaque
// credentials, holding each subject to a bounded number of active ones.
type DeviceCredentialManager struct {
	pool      TxBeginner
	db        db.Querier
	recorder  *audit.Recorder
	ttl       time.Duration
	maxActive int32
	now       func() time.Time
}

// NewDeviceCredentialManager creates a new device credential manager.
func NewDeviceCredentialManager(pool TxBeginner, querier db.Querier, recorder *audit.Recorder, ttl time.Duration, maxActive int32) *DeviceCredentialManager {
	return &DeviceCredentialManager{
		pool:      pool,
		db:        querier,
		recorder:  recorder,
		ttl:       ttl,
		maxActive: maxActive,
		now:       time.Now,
	}
}

// IssuedCredential is the result of issuing a device credential. Secret is
// the full credential value and is only ever shown once.
type IssuedCredential struct {
	Secret    string
	PublicID  string
	ExpiresAt time.Time
	Evicted   int64
}

// Issue creates a new active credential and, in the same transaction,
// revokes every active credential beyond the bound, oldest first. The
// subject's active credentials are row-locked first so two concurrent
// issuances for the same subject cannot both skip eviction and breach the
// bound.
func (m *DeviceCredentialManager) Issue(ctx context.Context, userID int64, deviceInfo string) (*IssuedCredential, error) {
	credUUID := uuid.New()

	randomSecret, err := generateRandomSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random secret: %w", err)
	}
	secret := formatCredentialSecret(credUUID.String(), randomSecret)
	expiresAt := m.now().Add(m.ttl)

	tx, err := m.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	qtx := db.New(tx)
	if err := qtx.LockDeviceCredentials(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to lock credentials: %w", err)
	}

	if err := qtx.CreateDeviceCredential(ctx, db.CreateDeviceCredentialParams{
		PublicID:   credUUID.String(),
		UserID:     userID,
		SecretHash: hashCredentialSecret(secret),
		DeviceInfo: deviceInfo,
		ExpiresAt:  expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	evicted, err := qtx.EvictDeviceCredentials(ctx, db.EvictDeviceCredentialsParams{
		UserID: userID,
		Keep:   m.maxActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evict stale credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credential issuance: %w", err)
	}

	m.recorder.Log(ctx, audit.Record{
		EntityType:  audit.CredentialEntityType,
		EntityID:    credUUID.String(),
		Action:      audit.CredentialCreate,
		PerformedBy: &userID,
		Details:     map[string]any{"device_info": deviceInfo},
	})
	if evicted > 0 {
		m.recorder.Log(ctx, audit.Record{
			EntityType:  audit.CredentialEntityType,
			EntityID:    credUUID.String(),
			Action:      audit.CredentialEvict,
			PerformedBy: &userID,
			Details:     map[string]any{"evicted": evicted},
		})
	}

	return &IssuedCredential{
		Secret:    secret,
		PublicID:  credUUID.String(),
		ExpiresAt: expiresAt,
		Evicted:   evicted,
	}, nil
}

// Validate checks a presented credential value and returns the owning
// subject's public ID. The hash comparison is constant-time so validation
// latency does not leak how much of a guess matched.
func (m *DeviceCredentialManager) Validate(ctx context.Context, secretValue string) (string, error) {
	credUUID, err := parseCredentialSecret(secretValue)
	if err != nil {
		return "", ErrCredentialNotFound
	}

	row, err := m.db.GetDeviceCredentialByPublicID(ctx, credUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("failed to look up credential: %w", err)
	}

	presented := hashCredentialSecret(secretValue)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(row.SecretHash)) != 1 {
		return "", ErrCredentialNotFound
	}

	if !row.IsActive || row.RevokedAt.Valid {
		return "", ErrCredentialRevoked
	}
	if m.now().After(row.ExpiresAt) {
		return "", ErrCredentialExpired
	}

	// Update last_used_at in background (don't fail validation if this fails)
	go func() {
		if err := m.db.TouchDeviceCredential(context.Background(), credUUID); err != nil {
			slog.Warn("failed to touch device credential", "credential_id", credUUID, "err", err)
		}
	}()

	return row.UserPublicID, nil
}

// Get fetches credential metadata by public ID.
func (m *DeviceCredentialManager) Get(ctx context.Context, publicID string) (db.GetDeviceCredentialRow, error) {
	row, err := m.db.GetDeviceCredentialByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.GetDeviceCredentialRow{}, ErrCredentialNotFound
		}
		return db.GetDeviceCredentialRow{}, fmt.Errorf("failed to get credential: %w", err)
	}
	return row, nil
}

// List returns a subject's credentials, newest first, active or not.
func (m *DeviceCredentialManager) List(ctx context.Context, userID int64) ([]db.DeviceCredential, error) {
	return m.db.ListDeviceCredentialsByUser(ctx, userID)
}

// Revoke deactivates a credential regardless of its position or age.
func (m *DeviceCredentialManager) Revoke(ctx context.Context, publicID string, performedBy *int64) error {
	if err := m.db.RevokeDeviceCredential(ctx, publicID); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}

	m.recorder.Log(ctx, audit.Record{
		EntityType:  audit.CredentialEntityType,
		EntityID:    publicID,
		Action:      audit.CredentialRevoke,
		PerformedBy: performedBy,
	})
	return nil
}

// IsCredentialSecret reports whether a bearer value looks like a device
// credential rather than a session token.
func IsCredentialSecret(value string) bool {
	return strings.HasPrefix(value, credentialPrefix+"_")
}

// formatCredentialSecret creates a credential value in the format:
// testflow_{credUUID_no_dashes}_{randomSecret}
func formatCredentialSecret(credUUID, randomSecret string) string {
	return fmt.Sprintf("%s_%s_%s", credentialPrefix, stripUUIDDashes(credUUID), randomSecret)
}

// parseCredentialSecret extracts the credential UUID (restored to standard
// dashed form) from a credential value.
func parseCredentialSecret(secretValue string) (string, error) {
	parts := strings.Split(secretValue, "_")
	if len(parts) < 3 || parts[0] != credentialPrefix {
		return "", fmt.Errorf("invalid credential format")
	}
	credUUID, err := formatUUIDWithDashes(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid credential UUID: %w", err)
	}
	if strings.Join(parts[2:], "_") == "" {
		return "", fmt.Errorf("invalid credential format: missing random secret")
	}
	return credUUID, nil
}

// hashCredentialSecret returns the hex SHA-256 of the full credential value.
// Only the hash is stored.
func hashCredentialSecret(secretValue string) string {
	sum := sha256.Sum256([]byte(secretValue))
	return hex.EncodeToString(sum[:])
}

// stripUUIDDashes removes dashes from a UUID and converts to lowercase.
func stripUUIDDashes(uuidStr string) string {
	return strings.ToLower(strings.ReplaceAll(uuidStr, "-", ""))
}

// formatUUIDWithDashes adds dashes to a UUID string (32 hex chars) to standard format.
func formatUUIDWithDashes(noDashes string) (string, error) {
	if len(noDashes) != 32 {
		return "", fmt.Errorf("UUID must be 32 characters without dashes")
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		noDashes[0:8],
		noDashes[8:12],
		noDashes[12:16],
		noDashes[16:20],
		noDashes[20:32],
	), nil
}

// generateRandomSecret generates a cryptographically secure random secret,
// base64url encoded without padding.
func generateRandomSecret(numBytes int) (string, error) {
	bytes := make([]byte, numBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
