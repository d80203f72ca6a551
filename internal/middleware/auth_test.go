package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testflow/api/internal/auth"
)

func newTestAuthenticator() (*SessionAuthenticator, *auth.Codec) {
	codec := auth.NewCodec("https://api.testflow.test", []byte("0123456789abcdef0123456789abcdef"))
	return NewSessionAuthenticator(codec), codec
}

func mintToken(t *testing.T, codec *auth.Codec, claims *auth.Claims) string {
	t.Helper()
	if claims.IssuedAt.IsZero() {
		claims.IssuedAt = time.Now()
	}
	if claims.ExpiresAt.IsZero() {
		claims.ExpiresAt = time.Now().Add(time.Hour)
	}
	token, err := codec.Encode(claims)
	require.NoError(t, err)
	return token
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireSession_ValidToken(t *testing.T) {
	authenticator, codec := newTestAuthenticator()
	token := mintToken(t, codec, &auth.Claims{
		SubjectID:     "sub-1",
		AccountID:     "acct-1",
		AccountRole:   auth.RoleMember,
		TokenFamilyID: "fam-1",
	})

	var gotClaims *auth.Claims
	handler := authenticator.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		require.True(t, ok)
		gotClaims = claims
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/credentials", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	assert.Equal(t, "sub-1", gotClaims.SubjectID)
	assert.Equal(t, auth.RoleMember, gotClaims.AccountRole)
}

func TestRequireSession_Rejections(t *testing.T) {
	authenticator, codec := newTestAuthenticator()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})
	handler := authenticator.RequireSession(next)

	serve := func(authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/credentials", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer token", errorBody(t, rec)["error"])

	rec = serve("Bearer testflow_0123456789abcdef0123456789abcdef_secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "device credential is not a session token", errorBody(t, rec)["error"])

	rec = serve("Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token malformed", errorBody(t, rec)["error"])

	expired := mintToken(t, codec, &auth.Claims{
		SubjectID: "sub-1",
		IssuedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	rec = serve("Bearer " + expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token expired", errorBody(t, rec)["error"])

	otherCodec := auth.NewCodec("https://api.testflow.test", []byte("ffffffffffffffffffffffffffffffff"))
	forged := mintToken(t, otherCodec, &auth.Claims{SubjectID: "sub-1"})
	rec = serve("Bearer " + forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token signature invalid", errorBody(t, rec)["error"])
}

func TestRequireRole(t *testing.T) {
	authenticator, codec := newTestAuthenticator()

	var reached bool
	handler := authenticator.RequireRole(auth.RoleAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	member := mintToken(t, codec, &auth.Claims{
		SubjectID:   "sub-1",
		AccountID:   "acct-1",
		AccountRole: auth.RoleMember,
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+member)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(auth.ReasonInsufficientRole), errorBody(t, rec)["reason"])
	assert.False(t, reached)

	admin := mintToken(t, codec, &auth.Claims{
		SubjectID:   "sub-2",
		AccountID:   "acct-1",
		AccountRole: auth.RoleAdmin,
	})
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, reached)
}
