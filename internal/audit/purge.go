package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/testflow/api/internal/db"
)

var eventsPurged = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "testflow_audit_events_purged_total",
	Help: "Number of audit events deleted by retention purges.",
}, []string{"class"})

// Purger enforces retention on the audit store. Standard records are kept
// for RetentionStandardDays, sensitive records for RetentionSensitiveDays.
type Purger struct {
	q        db.Querier
	interval time.Duration
	now      func() time.Time
}

// NewPurger creates a new retention purger.
func NewPurger(q db.Querier, interval time.Duration) *Purger {
	return &Purger{
		q:        q,
		interval: interval,
		now:      time.Now,
	}
}

// Run purges on an interval until the context is cancelled. One purge runs
// immediately on start.
func (p *Purger) Run(ctx context.Context) {
	slog.Info("Audit purger started", "interval", p.interval)
	p.PurgeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Audit purger stopped")
			return
		case <-ticker.C:
			p.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce deletes expired records of both sensitivity classes. Each class
// is purged independently so a failure on one does not block the other, and
// re-running is harmless.
func (p *Purger) PurgeOnce(ctx context.Context) {
	now := p.now()
	p.purgeClass(ctx, false, now.AddDate(0, 0, -RetentionStandardDays), "standard")
	p.purgeClass(ctx, true, now.AddDate(0, 0, -RetentionSensitiveDays), "sensitive")
}

func (p *Purger) purgeClass(ctx context.Context, sensitive bool, before time.Time, class string) {
	deleted, err := p.q.PurgeAuditEvents(ctx, db.PurgeAuditEventsParams{
		IsSensitive: sensitive,
		Before:      before,
	})
	if err != nil {
		slog.Error("audit purge failed", "class", class, "err", err)
		return
	}
	if deleted > 0 {
		slog.Info("audit purge completed", "class", class, "deleted", deleted, "cutoff", before)
	}
	eventsPurged.WithLabelValues(class).Add(float64(deleted))
}
