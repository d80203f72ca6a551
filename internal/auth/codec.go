package auth

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Codec signs and verifies session tokens. The signing key is held behind
// an atomic pointer so the config reloader can rotate it without a restart.
// Rotation invalidates outstanding tokens; operators rotate on compromise.
type Codec struct {
	issuer     string
	signingKey atomic.Pointer[[]byte]
	now        func() time.Time
}

// NewCodec creates a codec signing with the given key.
func NewCodec(issuer string, key []byte) *Codec {
	c := &Codec{
		issuer: issuer,
		now:    time.Now,
	}
	c.SetKey(key)
	return c
}

// SetKey replaces the signing key. Safe to call concurrently with
// Encode/Decode.
func (c *Codec) SetKey(key []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	c.signingKey.Store(&k)
}

func (c *Codec) key() []byte {
	return *c.signingKey.Load()
}

// Encode produces a signed, time-bounded token for the claims. Tenant
// context and impersonation fields are only embedded when present, so a
// token without them stays indistinguishable from one minted before those
// fields existed.
func (c *Codec) Encode(claims *Claims) (string, error) {
	b := jwt.NewBuilder().
		Issuer(c.issuer).
		Subject(claims.SubjectID).
		IssuedAt(claims.IssuedAt).
		Expiration(claims.ExpiresAt).
		Claim("email", claims.Email).
		Claim("is_admin", claims.IsAdmin).
		Claim("is_super_admin", claims.IsSuperAdmin).
		Claim("token_family_id", claims.TokenFamilyID)

	if claims.HasAccountContext() {
		b = b.Claim("account_id", claims.AccountID).
			Claim("account_role", claims.AccountRole.String())
	}
	if claims.Impersonation != nil {
		b = b.Claim("impersonated_by", claims.Impersonation.ImpersonatedBy).
			Claim("impersonation_started_at", claims.Impersonation.StartedAt.UTC().Format(time.RFC3339))
	}

	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), c.key()))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// Decode parses and verifies a token. Failures are specific: ErrTokenMalformed
// when the structure cannot be parsed, ErrTokenSignature on tamper or forgery,
// ErrTokenExpired when the token is past its expiry even though the signature
// is valid. Optional fields absent in older tokens decode to defaults
// (is_super_admin false, no tenant context) rather than failing; that is the
// backward-compatibility contract the rest of the system relies on.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	raw := []byte(tokenString)

	// Structural parse first so a garbled token is reported as malformed,
	// not as a bad signature.
	tok, err := jwt.Parse(raw, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if _, err := jwt.Parse(raw, jwt.WithKey(jwa.HS256(), c.key()), jwt.WithValidate(false)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenSignature, err)
	}

	exp, ok := tok.Expiration()
	if !ok {
		return nil, fmt.Errorf("%w: missing expiration", ErrTokenMalformed)
	}
	if c.now().After(exp) {
		return nil, ErrTokenExpired
	}

	subject, ok := tok.Subject()
	if !ok || subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}

	claims := &Claims{
		SubjectID: subject,
		ExpiresAt: exp,
	}
	if iat, ok := tok.IssuedAt(); ok {
		claims.IssuedAt = iat
	}

	_ = tok.Get("email", &claims.Email)
	_ = tok.Get("is_admin", &claims.IsAdmin)
	_ = tok.Get("is_super_admin", &claims.IsSuperAdmin)
	_ = tok.Get("token_family_id", &claims.TokenFamilyID)

	var accountID string
	if err := tok.Get("account_id", &accountID); err == nil && accountID != "" {
		var roleStr string
		if err := tok.Get("account_role", &roleStr); err != nil {
			return nil, fmt.Errorf("%w: account_id without account_role", ErrTokenMalformed)
		}
		role, err := ParseRole(roleStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
		claims.AccountID = accountID
		claims.AccountRole = role
	}

	var impersonatedBy string
	if err := tok.Get("impersonated_by", &impersonatedBy); err == nil && impersonatedBy != "" {
		var startedAtStr string
		if err := tok.Get("impersonation_started_at", &startedAtStr); err != nil {
			return nil, fmt.Errorf("%w: impersonated_by without impersonation_started_at", ErrTokenMalformed)
		}
		startedAt, err := time.Parse(time.RFC3339, startedAtStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad impersonation_started_at: %v", ErrTokenMalformed, err)
		}
		claims.Impersonation = &Impersonation{
			ImpersonatedBy: impersonatedBy,
			StartedAt:      startedAt,
		}
	}

	return claims, nil
}
