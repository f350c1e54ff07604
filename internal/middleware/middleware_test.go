package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusvote/internal/models"
	"campusvote/internal/repo"
	"campusvote/internal/sessions"
	"campusvote/internal/testutil"
	"campusvote/internal/totp"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) models.Envelope {
	t.Helper()
	var env models.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = GetRequestID(r) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc", seen)
}

func TestRecovererRendersEnvelope(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/elections/x/lock-in-vote", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, models.StatusError, env.Status)
	assert.Contains(t, env.Detail, "Oops!")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		trust      bool
		remote     string
		headers    map[string]string
		expectedIP string
	}{
		{"remote addr", false, "192.0.2.1:1234", nil, "192.0.2.1"},
		{"xff ignored without trust", false, "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9"}, "192.0.2.1"},
		{"xff chain", true, "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "203.0.113.9"},
		{"x-real-ip", true, "192.0.2.1:1234", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"bad xff falls back", true, "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "garbage"}, "192.0.2.1"},
		{"mapped ipv6", false, "[::ffff:192.0.2.5]:80", nil, "192.0.2.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			h := ClientIP(tc.trust)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { got = GetClientIP(r) }))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.expectedIP, got)
		})
	}
}

func TestOriginUnknownAddressFailsClosed(t *testing.T) {
	key, err := totp.NewKey()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	pinned := "192.0.2.1"

	var origin *totp.Origin
	h := ClientIP(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { origin = Origin(r) }))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "unresolvable"
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, origin)
	assert.Empty(t, origin.IP)

	sec := &models.OTPSecret{
		Key:                 key,
		LastVerifiedCounter: models.NoCounter,
		ValidityPeriod:      1800,
		Length:              6,
		RequestorIPAddress:  &pinned,
	}
	_, ok := totp.Verify(sec, totp.Token(sec, now), now, origin, 0)
	assert.False(t, ok)

	req.RemoteAddr = "192.0.2.1:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)
	_, ok = totp.Verify(sec, totp.Token(sec, now), now, origin, 0)
	assert.True(t, ok)
}

func TestAuthGuards(t *testing.T) {
	d := testutil.NewDB(t)
	mgr := sessions.NewManager(sessions.NewDBStore(d), "", time.Hour, false)
	auth := &Auth{Sessions: mgr, Accounts: repo.NewAccountStore(d)}
	voter := testutil.Voter(t, d)
	admin := testutil.Admin(t, d)

	login := func(acc *models.UserAccount) string {
		token, err := mgr.Start(context.Background(), httptest.NewRecorder(), acc.ID, sessions.Meta{})
		require.NoError(t, err)
		return token
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { models.WriteSuccess(w, "ok", nil) })
	do := func(guard func(http.Handler) http.Handler, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		auth.Load(guard(ok)).ServeHTTP(rec, req)
		return rec.Code
	}

	voterTok, adminTok := login(voter), login(admin)

	assert.Equal(t, http.StatusUnauthorized, do(RequireAuth, ""))
	assert.Equal(t, http.StatusUnauthorized, do(RequireAuth, "bogus"))
	assert.Equal(t, http.StatusOK, do(RequireAuth, voterTok))

	assert.Equal(t, http.StatusOK, do(RequireVoter, voterTok))
	assert.Equal(t, http.StatusForbidden, do(RequireVoter, adminTok))

	assert.Equal(t, http.StatusOK, do(RequireAdmin, adminTok))
	assert.Equal(t, http.StatusForbidden, do(RequireAdmin, voterTok))
}
