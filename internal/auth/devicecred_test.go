package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testflow/api/internal/audit"
	"github.com/testflow/api/internal/db"
	"github.com/testflow/api/internal/testutils"
)

func newTestCredManager(pool TxBeginner, q db.Querier) (*DeviceCredentialManager, *captureAppender) {
	appender := &captureAppender{}
	recorder := audit.NewRecorder(appender)
	return NewDeviceCredentialManager(pool, q, recorder, 90*24*time.Hour, 5), appender
}

// TestIssue_AtomicInsertAndEvict verifies that issuance locks the subject's
// active credentials, inserts, and evicts beyond the bound inside one
// transaction.
func TestIssue_AtomicInsertAndEvict(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3).AddRow(4).AddRow(5))
	mock.ExpectExec("INSERT INTO device_credentials").
		WillReturnResult(sqlmock.NewResult(6, 1))
	mock.ExpectExec("UPDATE device_credentials").
		WithArgs(int64(7), int32(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, appender := newTestCredManager(mockDB, &testutils.MockQuerier{})

	issued, err := m.Issue(context.Background(), 7, "pipeline runner")
	require.NoError(t, err)
	assert.True(t, IsCredentialSecret(issued.Secret))
	assert.Equal(t, int64(1), issued.Evicted)

	// The credential UUID is recoverable from the opaque secret.
	parsedID, err := parseCredentialSecret(issued.Secret)
	require.NoError(t, err)
	assert.Equal(t, issued.PublicID, parsedID)

	require.Len(t, appender.byAction(audit.CredentialCreate), 1)
	require.Len(t, appender.byAction(audit.CredentialEvict), 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestIssue_InsertFailureRollsBack verifies that a failed insert leaves no
// partial state and no audit record.
func TestIssue_InsertFailureRollsBack(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO device_credentials").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	m, appender := newTestCredManager(mockDB, &testutils.MockQuerier{})

	_, err = m.Issue(context.Background(), 7, "pipeline runner")
	assert.Error(t, err)
	assert.Empty(t, appender.records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func validCredentialRow(secret, credUUID string) db.GetDeviceCredentialRow {
	row := db.GetDeviceCredentialRow{UserPublicID: "sub-1"}
	row.PublicID = credUUID
	row.UserID = 7
	row.SecretHash = hashCredentialSecret(secret)
	row.IsActive = true
	row.ExpiresAt = time.Now().Add(time.Hour)
	return row
}

// TestValidate verifies the validation taxonomy: success, wrong secret and
// unknown ID are NotFound, inactive is Revoked, past expiry is Expired.
func TestValidate(t *testing.T) {
	credUUID := uuid.NewString()
	secret := formatCredentialSecret(credUUID, "random-secret-value")
	row := validCredentialRow(secret, credUUID)

	q := &testutils.MockQuerier{
		GetDeviceCredentialByPublicIDFunc: func(ctx context.Context, publicID string) (db.GetDeviceCredentialRow, error) {
			assert.Equal(t, credUUID, publicID)
			return row, nil
		},
	}
	m, _ := newTestCredManager(nil, q)

	subject, err := m.Validate(context.Background(), secret)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", subject)

	// Right credential ID, wrong random secret.
	_, err = m.Validate(context.Background(), formatCredentialSecret(credUUID, "guessed"))
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	// Revoked credential.
	row.IsActive = false
	_, err = m.Validate(context.Background(), secret)
	assert.ErrorIs(t, err, ErrCredentialRevoked)
	row.IsActive = true

	// Expired credential.
	row.ExpiresAt = time.Now().Add(-time.Minute)
	_, err = m.Validate(context.Background(), secret)
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

// TestValidate_UnknownAndMalformed verifies that unknown and garbled
// credential values both fail with NotFound.
func TestValidate_UnknownAndMalformed(t *testing.T) {
	m, _ := newTestCredManager(nil, &testutils.MockQuerier{})

	unknown := formatCredentialSecret(uuid.NewString(), "whatever")
	_, err := m.Validate(context.Background(), unknown)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	for _, input := range []string{"", "testflow", "testflow_short_x", "bearer-token-value"} {
		_, err := m.Validate(context.Background(), input)
		assert.ErrorIs(t, err, ErrCredentialNotFound, "input %q", input)
	}
}

// TestRevoke verifies explicit revocation and its audit record.
func TestRevoke(t *testing.T) {
	var revokedID string
	q := &testutils.MockQuerier{
		RevokeDeviceCredentialFunc: func(ctx context.Context, publicID string) error {
			revokedID = publicID
			return nil
		},
	}
	m, appender := newTestCredManager(nil, q)

	actor := int64(7)
	require.NoError(t, m.Revoke(context.Background(), "cred-1", &actor))
	assert.Equal(t, "cred-1", revokedID)

	recs := appender.byAction(audit.CredentialRevoke)
	require.Len(t, recs, 1)
	assert.Equal(t, "cred-1", recs[0].EntityID)
}
