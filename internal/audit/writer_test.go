package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testflow/api/internal/db"
	"github.com/testflow/api/internal/testutils"
)

func testRecord(action Action) Record {
	return Record{
		EntityType: UserEntityType,
		EntityID:   "sub-1",
		Action:     action,
		SourceIP:   "203.0.113.9",
		UserAgent:  "testflow-cli/1.2",
		OccurredAt: time.Now(),
	}
}

// TestWriter_FlushRetriesUntilSuccess verifies that a failed insert keeps the
// record pending with its attempt count and a later flush clears it.
func TestWriter_FlushRetriesUntilSuccess(t *testing.T) {
	var calls int
	q := &testutils.MockQuerier{
		CreateAuditEventFunc: func(ctx context.Context, arg db.CreateAuditEventParams) error {
			calls++
			if calls == 1 {
				return errors.New("store unavailable")
			}
			return nil
		},
	}
	w := NewWriter(q, DefaultWriterConfig())

	pending := []pendingRecord{{rec: testRecord(TokenRefresh)}}
	pending = w.flush(context.Background(), pending)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].attempts)

	pending = w.flush(context.Background(), pending)
	assert.Empty(t, pending)
	assert.Equal(t, 2, calls)
}

// TestWriter_FlushDropsAfterMaxAttempts verifies the drop bound: a record
// that keeps failing is abandoned after MaxAttempts rather than retried
// forever.
func TestWriter_FlushDropsAfterMaxAttempts(t *testing.T) {
	q := &testutils.MockQuerier{
		CreateAuditEventFunc: func(ctx context.Context, arg db.CreateAuditEventParams) error {
			return errors.New("store unavailable")
		},
	}
	cfg := DefaultWriterConfig()
	cfg.MaxAttempts = 3
	w := NewWriter(q, cfg)

	pending := []pendingRecord{{rec: testRecord(TokenRefresh)}}
	pending = w.flush(context.Background(), pending)
	require.Len(t, pending, 1)
	pending = w.flush(context.Background(), pending)
	require.Len(t, pending, 1)
	pending = w.flush(context.Background(), pending)
	assert.Empty(t, pending)
}

// TestWriter_StartAndStop verifies the end-to-end path: enqueued records are
// written and Stop performs a final flush before returning.
func TestWriter_StartAndStop(t *testing.T) {
	written := make(chan db.CreateAuditEventParams, 2)
	q := &testutils.MockQuerier{
		CreateAuditEventFunc: func(ctx context.Context, arg db.CreateAuditEventParams) error {
			written <- arg
			return nil
		},
	}
	cfg := DefaultWriterConfig()
	cfg.PollInterval = 10 * time.Millisecond
	w := NewWriter(q, cfg)

	go w.Start(context.Background())

	require.True(t, w.Enqueue(testRecord(UserLoginSuccess)))

	select {
	case arg := <-written:
		assert.Equal(t, string(UserLoginSuccess), arg.Action)
		assert.Equal(t, "sub-1", arg.EntityID)
	case <-time.After(time.Second):
		t.Fatal("record was not written")
	}

	// A record enqueued right before Stop is drained and flushed.
	require.True(t, w.Enqueue(testRecord(TokenRefresh)))
	w.Stop()

	select {
	case arg := <-written:
		assert.Equal(t, string(TokenRefresh), arg.Action)
	default:
		t.Fatal("final flush did not write the drained record")
	}
}

// TestWriter_EnqueueFullQueue verifies the non-blocking contract when the
// queue is full and nothing is consuming.
func TestWriter_EnqueueFullQueue(t *testing.T) {
	cfg := DefaultWriterConfig()
	cfg.QueueSize = 1
	w := NewWriter(&testutils.MockQuerier{}, cfg)

	assert.True(t, w.Enqueue(testRecord(TokenRefresh)))
	assert.False(t, w.Enqueue(testRecord(TokenRefresh)))
}

// TestToParams verifies nullable actor/account mapping and detail encoding.
func TestToParams(t *testing.T) {
	performedBy := int64(7)
	accountID := int64(42)
	rec := testRecord(AccountSwitch)
	rec.PerformedBy = &performedBy
	rec.AccountID = &accountID
	rec.IsSensitive = true
	rec.Details = map[string]any{"before": "acct-1", "after": "acct-2"}

	params := toParams(rec)
	assert.Equal(t, string(AccountSwitch), params.Action)
	assert.True(t, params.IsSensitive)
	require.True(t, params.PerformedBy.Valid)
	assert.Equal(t, int64(7), params.PerformedBy.Int64)
	require.True(t, params.AccountID.Valid)
	assert.Equal(t, int64(42), params.AccountID.Int64)
	assert.JSONEq(t, `{"before":"acct-1","after":"acct-2"}`, string(params.Details))

	anonymous := toParams(testRecord(UserLoginFailure))
	assert.False(t, anonymous.PerformedBy.Valid)
	assert.False(t, anonymous.AccountID.Valid)
}
