package auth

import "errors"

// Decode failures. Every failure is specific: callers must be able to tell
// a forged token from a stale one.
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// Device-credential validation failures.
var (
	ErrCredentialNotFound = errors.New("device credential not found")
	ErrCredentialExpired  = errors.New("device credential expired")
	ErrCredentialRevoked  = errors.New("device credential revoked")
)

// Login failures. ErrInvalidCredentials deliberately covers both unknown
// email and wrong password so the response does not leak which one it was.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many failed attempts, try again later")
	ErrSubjectNotFound    = errors.New("subject not found")
)

// ForbiddenReason identifies which authorization rule denied a request.
type ForbiddenReason string

const (
	ReasonInsufficientRole      ForbiddenReason = "insufficient_role"
	ReasonCrossAccountAccess    ForbiddenReason = "cross_account_access"
	ReasonMissingAccountContext ForbiddenReason = "missing_account_context"
	ReasonNotSuperAdmin         ForbiddenReason = "not_super_admin"
	ReasonNotAMember            ForbiddenReason = "not_a_member"
	ReasonImpersonationActive   ForbiddenReason = "impersonation_active"
	ReasonTargetIsSuperAdmin    ForbiddenReason = "target_is_super_admin"
)

// ForbiddenError is an authorization denial carrying its reason.
type ForbiddenError struct {
	Reason ForbiddenReason
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + string(e.Reason)
}

// Forbidden creates an authorization denial with the given reason.
func Forbidden(reason ForbiddenReason) error {
	return &ForbiddenError{Reason: reason}
}

// IsForbidden reports whether err is an authorization denial and, if so,
// returns its reason.
func IsForbidden(err error) (ForbiddenReason, bool) {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		return fe.Reason, true
	}
	return "", false
}
