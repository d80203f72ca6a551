package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	"github.com/testflow/api/internal/db"
)

var (
	eventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testflow_audit_events_written_total",
		Help: "Number of audit events persisted to the audit store.",
	})
	eventRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testflow_audit_event_retries_total",
		Help: "Number of audit event persistence retries.",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "testflow_audit_events_dropped_total",
		Help: "Number of audit events dropped after exhausting retries or on queue overflow.",
	})
)

// WriterConfig holds configuration for the asynchronous audit writer.
type WriterConfig struct {
	QueueSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// DefaultWriterConfig returns default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:    256,
		PollInterval: 2 * time.Second,
		MaxAttempts:  10,
	}
}

// pendingRecord tracks persistence attempts for one record.
type pendingRecord struct {
	rec      Record
	attempts int
}

// Writer persists audit records out-of-band, at-least-once. A circuit
// breaker guards the audit store so a struggling database is not hammered;
// records are retried on an interval and dropped (with a loud log and a
// metric) only after MaxAttempts.
type Writer struct {
	q            db.Querier
	breaker      *gobreaker.CircuitBreaker[struct{}]
	ch           chan Record
	pollInterval time.Duration
	maxAttempts  int
	stopCh       chan struct{}
	stoppedCh    chan struct{}
}

// NewWriter creates a new asynchronous audit writer.
func NewWriter(q db.Querier, cfg WriterConfig) *Writer {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "audit-store",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Writer{
		q:            q,
		breaker:      breaker,
		ch:           make(chan Record, cfg.QueueSize),
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		stopCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
	}
}

// Enqueue accepts a record without blocking. It reports false when the
// queue is full; the caller counts and logs the drop.
func (w *Writer) Enqueue(rec Record) bool {
	select {
	case w.ch <- rec:
		return true
	default:
		return false
	}
}

// Start processes the queue until the context is cancelled or Stop is
// called. A final flush attempt is made on shutdown.
func (w *Writer) Start(ctx context.Context) {
	slog.Info("Audit writer started")
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.stoppedCh)

	var pending []pendingRecord

	for {
		select {
		case <-ctx.Done():
			w.drain(&pending)
			pending = w.flush(context.Background(), pending)
			slog.Info("Audit writer stopped (context cancelled)", "unwritten", len(pending))
			return
		case <-w.stopCh:
			w.drain(&pending)
			pending = w.flush(context.Background(), pending)
			slog.Info("Audit writer stopped", "unwritten", len(pending))
			return
		case rec := <-w.ch:
			pending = append(pending, pendingRecord{rec: rec})
			pending = w.flush(ctx, pending)
		case <-ticker.C:
			pending = w.flush(ctx, pending)
		}
	}
}

// Stop signals the writer to stop and waits for the final flush.
func (w *Writer) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

// drain moves everything still queued into the pending list.
func (w *Writer) drain(pending *[]pendingRecord) {
	for {
		select {
		case rec := <-w.ch:
			*pending = append(*pending, pendingRecord{rec: rec})
		default:
			return
		}
	}
}

// flush attempts to persist each pending record once, returning those that
// still need a retry.
func (w *Writer) flush(ctx context.Context, pending []pendingRecord) []pendingRecord {
	if len(pending) == 0 {
		return pending
	}
	if w.breaker.State() == gobreaker.StateOpen {
		// Let the breaker cool off; entries keep their attempt counts.
		return pending
	}

	remaining := pending[:0]
	for _, p := range pending {
		_, err := w.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, w.q.CreateAuditEvent(ctx, toParams(p.rec))
		})
		if err == nil {
			eventsWritten.Inc()
			continue
		}

		p.attempts++
		eventRetries.Inc()
		if p.attempts >= w.maxAttempts {
			slog.Error("audit record dropped after exhausting retries",
				"action", string(p.rec.Action),
				"entity_id", p.rec.EntityID,
				"attempts", p.attempts,
				"err", err)
			eventsDropped.Inc()
			continue
		}
		slog.Warn("audit record persistence failed, will retry",
			"action", string(p.rec.Action), "attempts", p.attempts, "err", err)
		remaining = append(remaining, p)
	}
	return remaining
}

// toParams converts a record to insert parameters.
func toParams(rec Record) db.CreateAuditEventParams {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		slog.Error("failed to marshal audit details", "err", err)
		details = nil
	}

	params := db.CreateAuditEventParams{
		EntityType:  string(rec.EntityType),
		EntityID:    rec.EntityID,
		Action:      string(rec.Action),
		SourceIP:    rec.SourceIP,
		UserAgent:   rec.UserAgent,
		Details:     details,
		IsSensitive: rec.IsSensitive,
	}
	if rec.PerformedBy != nil {
		params.PerformedBy.Int64 = *rec.PerformedBy
		params.PerformedBy.Valid = true
	}
	if rec.AccountID != nil {
		params.AccountID.Int64 = *rec.AccountID
		params.AccountID.Valid = true
	}
	return params
}
