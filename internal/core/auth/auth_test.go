package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/procare/internal/core/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuthServer struct {
	*httptest.Server
	logins    atomic.Int32
	preflight atomic.Int32
	status    int
	token     string
	loginPage int
	rawBody   string
	lastBody  loginRequest
}

func newFakeAuthServer(t *testing.T) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{status: http.StatusCreated, token: "tok-1", loginPage: http.StatusOK}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			f.preflight.Add(1)
			w.WriteHeader(f.loginPage)
		case "/sessions/":
			f.logins.Add(1)
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewDecoder(r.Body).Decode(&f.lastBody) //nolint:errcheck
			w.WriteHeader(f.status)
			if f.rawBody != "" {
				io.WriteString(w, f.rawBody) //nolint:errcheck
				return
			}
			if f.token == "" {
				json.NewEncoder(w).Encode(map[string]string{}) //nolint:errcheck
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"auth_token": f.token}) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func newManager(t *testing.T, url string) *Manager {
	t.Helper()
	sess, err := transport.NewSession(transport.Options{
		Hosts: transport.Hosts{Auth: url, API: url, Web: url},
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return NewManager(sess, Credentials{Username: "parent@example.com", Password: "hunter2"}, discardLogger())
}

func TestLoginCachesToken(t *testing.T) {
	srv := newFakeAuthServer(t)
	m := newManager(t, srv.URL)

	require.NoError(t, m.Login(context.Background()))
	require.NoError(t, m.Login(context.Background()))

	require.Equal(t, int32(1), srv.logins.Load())
	require.Equal(t, int32(1), srv.preflight.Load())
	require.Equal(t, loginRequest{Email: "parent@example.com", Password: "hunter2", Role: "carer", Platform: "web"}, srv.lastBody)

	h, err := m.AuthHeaders()
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-1", h.Get("Authorization"))
	require.NotEmpty(t, h.Get("User-Agent"))
}

func TestLoginPreflightFailureIsNotFatal(t *testing.T) {
	srv := newFakeAuthServer(t)
	srv.loginPage = http.StatusForbidden
	m := newManager(t, srv.URL)

	require.NoError(t, m.Login(context.Background()))
	require.True(t, m.HasToken())
}

func TestLoginPreflightUnreachableIsNotFatal(t *testing.T) {
	srv := newFakeAuthServer(t)
	sess, err := transport.NewSession(transport.Options{
		Hosts: transport.Hosts{Auth: srv.URL, API: srv.URL, Web: "http://127.0.0.1:1"},
	}, discardLogger())
	require.NoError(t, err)
	defer sess.Close()
	m := NewManager(sess, Credentials{Username: "a", Password: "b"}, discardLogger())

	require.NoError(t, m.Login(context.Background()))
	require.True(t, m.HasToken())
}

func TestLoginRejected(t *testing.T) {
	srv := newFakeAuthServer(t)
	srv.status = http.StatusUnauthorized
	m := newManager(t, srv.URL)

	err := m.Login(context.Background())
	require.ErrorIs(t, err, ErrAuth)
	require.False(t, m.HasToken())
}

func TestLoginMissingToken(t *testing.T) {
	srv := newFakeAuthServer(t)
	srv.token = ""
	m := newManager(t, srv.URL)

	err := m.Login(context.Background())
	require.ErrorIs(t, err, ErrAuth)
	require.False(t, m.HasToken())
}

// failedLogins reads the failed-login counter from the default registry.
func failedLogins(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "procare_auth_logins_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == "failed" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLoginUndecodableBodyCountsAsFailure(t *testing.T) {
	srv := newFakeAuthServer(t)
	srv.rawBody = "<html>maintenance</html>"
	m := newManager(t, srv.URL)

	before := failedLogins(t)
	err := m.Login(context.Background())
	require.ErrorContains(t, err, "decode login response")
	require.False(t, m.HasToken())
	require.Equal(t, before+1, failedLogins(t))
}

func TestLoginTransportErrorIsNotAuthError(t *testing.T) {
	m := newManager(t, "http://127.0.0.1:1")
	err := m.Login(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAuth)
}

func TestLoginCancelledLeavesTokenUntouched(t *testing.T) {
	srv := newFakeAuthServer(t)
	m := newManager(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, m.Login(ctx))
	require.False(t, m.HasToken())
}

func TestAuthHeadersBeforeLogin(t *testing.T) {
	m := newManager(t, "http://127.0.0.1:1")
	_, err := m.AuthHeaders()
	require.ErrorIs(t, err, ErrAuth)
}

func TestInvalidateForcesLogin(t *testing.T) {
	srv := newFakeAuthServer(t)
	m := newManager(t, srv.URL)

	require.NoError(t, m.Login(context.Background()))
	m.Invalidate()
	require.False(t, m.HasToken())
	_, err := m.AuthHeaders()
	require.ErrorIs(t, err, ErrAuth)

	require.NoError(t, m.Login(context.Background()))
	require.Equal(t, int32(2), srv.logins.Load())
}

func TestExpiredJWTIsRefreshed(t *testing.T) {
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": now.Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	srv := newFakeAuthServer(t)
	srv.token = expired
	m := newManager(t, srv.URL)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Login(context.Background()))
	require.NoError(t, m.Login(context.Background()))
	require.Equal(t, int32(2), srv.logins.Load())
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	valid, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	require.False(t, tokenExpired("opaque-token", now))
	require.False(t, tokenExpired(valid, now))
	require.False(t, tokenExpired(noExp, now))
	require.True(t, tokenExpired(valid, now.Add(2*time.Hour)))
}
