package auth

import (
	"time"

	"github.com/testflow/api/internal/audit"
	"github.com/testflow/api/internal/db"
)

// captureAppender records audit records synchronously for assertions.
type captureAppender struct {
	records []audit.Record
	full    bool
}

func (c *captureAppender) Enqueue(rec audit.Record) bool {
	if c.full {
		return false
	}
	c.records = append(c.records, rec)
	return true
}

func (c *captureAppender) byAction(action audit.Action) []audit.Record {
	var out []audit.Record
	for _, rec := range c.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

func newTestIssuer(q db.Querier) (*Issuer, *captureAppender) {
	appender := &captureAppender{}
	recorder := audit.NewRecorder(appender)
	issuer := NewIssuer(q, newTestCodec(), NewResolver(q), recorder, time.Hour, 15*time.Minute)
	return issuer, appender
}
