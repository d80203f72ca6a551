// Package audit provides audit recording for identity and token-lifecycle
// actions. Records are classified for retention and persisted asynchronously:
// an append failure never blocks or rolls back the action it describes.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Action represents an audit action type.
type Action string

// Audit action constants define the actions that can be recorded.
const (
	UserLoginSuccess     Action = "user.login.success"
	UserLoginFailure     Action = "user.login.failure"
	TokenRefresh         Action = "token.refresh"
	AccountSwitch        Action = "account.switch"
	Impersonate          Action = "user.impersonate"
	MembershipRoleChange Action = "membership.role.change"
	CredentialCreate     Action = "device_credential.create"
	CredentialRevoke     Action = "device_credential.revoke"
	CredentialEvict      Action = "device_credential.evict"
	AuthorizationFailure Action = "authorization.failure"
)

// Sensitive reports whether records of this action are classified for
// extended retention. Impersonation and role changes are always sensitive.
func (a Action) Sensitive() bool {
	switch a {
	case Impersonate, MembershipRoleChange:
		return true
	}
	return false
}

// EntityType represents the type of entity being audited.
type EntityType string

// Entity type constants define the types of entities that can be audited.
const (
	UserEntityType       EntityType = "users"
	AccountEntityType    EntityType = "accounts"
	MembershipEntityType EntityType = "account_memberships"
	CredentialEntityType EntityType = "device_credentials"
)

// Retention floors in days. The sink classifies; the purger enforces.
const (
	RetentionStandardDays  = 90
	RetentionSensitiveDays = 365
)

// Record is one audit event. PerformedBy and AccountID are internal IDs and
// nil when unknown; they are stored as NULLs so the trail survives deletion
// of the referenced principal or account.
type Record struct {
	EntityType  EntityType
	EntityID    string
	Action      Action
	PerformedBy *int64
	AccountID   *int64
	SourceIP    string
	UserAgent   string
	Details     map[string]any
	IsSensitive bool
	OccurredAt  time.Time
}

// Appender accepts records for eventual persistence. Enqueue must never
// block; it reports whether the record was accepted.
type Appender interface {
	Enqueue(rec Record) bool
}

// Recorder enriches records with request context and hands them to the
// asynchronous appender.
type Recorder struct {
	appender Appender
}

// NewRecorder creates a new audit recorder.
func NewRecorder(appender Appender) *Recorder {
	return &Recorder{appender: appender}
}

// Log records an audit event. It enriches the record with source IP and
// user agent from the context, classifies it for retention, and enqueues it.
// Failures are logged and counted, never surfaced to the caller.
func (r *Recorder) Log(ctx context.Context, rec Record) {
	if rec.SourceIP == "" {
		rec.SourceIP = ExtractSourceIP(ctx)
	}
	if rec.UserAgent == "" {
		rec.UserAgent = ExtractUserAgent(ctx)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	rec.IsSensitive = rec.IsSensitive || rec.Action.Sensitive()

	if rec.Details == nil {
		rec.Details = make(map[string]any)
	}
	if reqID := ctx.Value("request_id"); reqID != nil {
		rec.Details["request_id"] = reqID
	}

	// Emit to stdout for capture by logging agents
	slog.Info("audit event",
		"action", string(rec.Action),
		"entity_type", string(rec.EntityType),
		"entity_id", rec.EntityID,
		"source_ip", rec.SourceIP,
		"sensitive", rec.IsSensitive,
	)

	if !r.appender.Enqueue(rec) {
		slog.Error("audit queue full, record dropped",
			"action", string(rec.Action), "entity_id", rec.EntityID)
		eventsDropped.Inc()
	}
}

// ExtractSourceIP gets the source IP from the HTTP request in context.
// Priority: X-Forwarded-For > X-Real-IP > RemoteAddr.
func ExtractSourceIP(ctx context.Context) string {
	if req, ok := ctx.Value("http_request").(*http.Request); ok && req != nil {
		xff := req.Header.Get("X-Forwarded-For")
		if xff != "" {
			// X-Forwarded-For may contain multiple IPs, take the first (client)
			ips := strings.Split(xff, ",")
			if len(ips) > 0 && strings.TrimSpace(ips[0]) != "" {
				return strings.TrimSpace(ips[0])
			}
		}

		xri := req.Header.Get("X-Real-IP")
		if xri != "" {
			return xri
		}

		if req.RemoteAddr != "" {
			if idx := strings.LastIndex(req.RemoteAddr, ":"); idx != -1 {
				return req.RemoteAddr[:idx]
			}
			return req.RemoteAddr
		}
	}

	return "unknown"
}

// ExtractUserAgent gets the user agent from the HTTP request in context.
func ExtractUserAgent(ctx context.Context) string {
	if req, ok := ctx.Value("http_request").(*http.Request); ok && req != nil {
		return req.Header.Get("User-Agent")
	}
	return ""
}
