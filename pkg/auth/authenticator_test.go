package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theroutercompany/problemdetails/pkg/config"
	"github.com/theroutercompany/problemdetails/pkg/problem"
)

const testSecret = "supersecret"

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/authorized", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(config.AuthConfig{Secret: testSecret, Audiences: []string{"api"}, Issuer: "problemd"})
	require.NoError(t, err)
	return a
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"aud":   "api",
		"iss":   "problemd",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "read write",
	}
}

func asProblem(t *testing.T, err error) *problem.Problem {
	t.Helper()
	var p *problem.Problem
	require.True(t, errors.As(err, &p), "expected *problem.Problem, got %T", err)
	return p
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(config.AuthConfig{})
	assert.Error(t, err)
}

func TestAuthenticateValidToken(t *testing.T) {
	token := sign(t, testSecret, validClaims())

	principal, err := newAuthenticator(t).Authenticate(bearer(token))
	require.NoError(t, err)

	assert.Equal(t, "user-1", principal.Subject)
	assert.Equal(t, []string{"read", "write"}, principal.Scopes)
	assert.Equal(t, token, principal.Token)
}

func TestAuthenticatePrefersScpClaim(t *testing.T) {
	claims := validClaims()
	claims["scp"] = []string{"admin"}

	principal, err := newAuthenticator(t).Authenticate(bearer(sign(t, testSecret, claims)))
	require.NoError(t, err)

	assert.Equal(t, []string{"admin"}, principal.Scopes)
}

func TestAuthenticateFailures(t *testing.T) {
	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAudience := validClaims()
	wrongAudience["aud"] = "other"

	cases := []struct {
		name      string
		header    string
		detail    string
		challenge string
	}{
		{name: "missing", header: "", detail: "Missing Authorization header.", challenge: `Bearer realm="problemd"`},
		{name: "wrong scheme", header: "Basic abc", detail: "Malformed Authorization header.", challenge: `Bearer realm="problemd", error="invalid_request"`},
		{name: "empty token", header: "Bearer ", detail: "Malformed Authorization header.", challenge: `Bearer realm="problemd", error="invalid_request"`},
		{name: "garbage", header: "Bearer not-a-jwt", detail: "Invalid or expired token.", challenge: `Bearer realm="problemd", error="invalid_token"`},
		{name: "wrong secret", header: "Bearer " + sign(t, "other", validClaims()), detail: "Invalid or expired token.", challenge: `Bearer realm="problemd", error="invalid_token"`},
		{name: "expired", header: "Bearer " + sign(t, testSecret, expired), detail: "Invalid or expired token.", challenge: `Bearer realm="problemd", error="invalid_token"`},
		{name: "audience", header: "Bearer " + sign(t, testSecret, wrongAudience), detail: "Invalid or expired token.", challenge: `Bearer realm="problemd", error="invalid_token"`},
	}

	a := newAuthenticator(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/authorized", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			_, err := a.Authenticate(req)

			p := asProblem(t, err)
			assert.Equal(t, http.StatusUnauthorized, p.Status)
			assert.Equal(t, "Authorization token required.", p.Title)
			assert.Equal(t, tc.detail, p.Detail)
			assert.Equal(t, tc.challenge, p.Headers.Get("WWW-Authenticate"))
		})
	}
}

func TestRequire(t *testing.T) {
	a := newAuthenticator(t)
	var written error
	write := func(w http.ResponseWriter, _ *http.Request, err error) {
		written = err
		w.WriteHeader(asProblem(t, err).Status)
	}
	var subject string
	handler := Require(a, write, "write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		subject = principal.Subject
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, bearer(sign(t, testSecret, validClaims())))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", subject)

	readOnly := validClaims()
	readOnly["scope"] = "read"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, bearer(sign(t, testSecret, readOnly)))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	p := asProblem(t, written)
	assert.Equal(t, "Permission required.", p.Title)
	assert.Equal(t, "No active permissions.", p.Detail)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/authorized", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireWithoutAuthenticator(t *testing.T) {
	var status int
	write := func(w http.ResponseWriter, _ *http.Request, err error) {
		status = asProblem(t, err).Status
	}

	Require(nil, write)(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, status)
}
