// Package auth owns the Procare bearer token: the login exchange, header
// construction and invalidation after the server rejects the token.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/trymwestin/procare/internal/core/transport"
	"github.com/trymwestin/procare/internal/observability"
)

// ErrAuth reports a rejected login or a missing, expired or rejected token.
var ErrAuth = errors.New("procare: authentication failed")

// Fixed role and platform sent with every credential exchange.
const (
	loginRole     = "carer"
	loginPlatform = "web"
)

// Credentials identify one Procare account.
type Credentials struct {
	Username string
	Password string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Platform string `json:"platform"`
}

type loginResponse struct {
	AuthToken string `json:"auth_token"`
}

// Manager holds the session token for one account.
type Manager struct {
	sess  *transport.Session
	creds Credentials
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	token string
}

// NewManager creates a token manager borrowing the given session.
func NewManager(sess *transport.Session, creds Credentials, log *slog.Logger) *Manager {
	return &Manager{
		sess:  sess,
		creds: creds,
		log:   log,
		now:   time.Now,
	}
}

// Login exchanges credentials for a token unless one is already cached.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		if !tokenExpired(m.token, m.now()) {
			return nil
		}
		m.log.Info("cached token expired, logging in again")
		m.token = ""
	}

	m.log.Info("logging in to Procare auth service")
	ep := m.sess.Endpoints()

	m.visitLoginPage(ctx, ep.WebLogin)

	body, err := json.Marshal(loginRequest{
		Email:    m.creds.Username,
		Password: m.creds.Password,
		Role:     loginRole,
		Platform: loginPlatform,
	})
	if err != nil {
		return fmt.Errorf("auth: marshal login: %w", err)
	}

	header := m.sess.Headers()
	header.Set("Content-Type", "application/json")
	req, err := m.sess.NewRequest(ctx, http.MethodPost, ep.Login, header, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: login: %w", err)
	}
	resp, err := m.sess.Do(req)
	if err != nil {
		return fmt.Errorf("auth: login: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.RecordLogin(false)
		return fmt.Errorf("%w: login returned HTTP %d", ErrAuth, resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		observability.RecordLogin(false)
		return fmt.Errorf("auth: decode login response: %w", err)
	}
	if out.AuthToken == "" {
		observability.RecordLogin(false)
		return fmt.Errorf("%w: token not found in login response", ErrAuth)
	}

	m.token = out.AuthToken
	observability.RecordLogin(true)
	m.log.Info("logged in to Procare")
	return nil
}

// visitLoginPage loads the browser login page so the server can set its
// session cookies. Failures are logged and never block the login.
func (m *Manager) visitLoginPage(ctx context.Context, url string) {
	m.log.Debug("visiting login page to initialize session")
	req, err := m.sess.NewRequest(ctx, http.MethodGet, url, m.sess.Headers(), nil)
	if err != nil {
		m.log.Warn("could not build login page request", "error", err)
		return
	}
	resp, err := m.sess.Do(req)
	if err != nil {
		m.log.Warn("session error on visiting login page", "error", err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close() //nolint:errcheck // best-effort close
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.log.Warn("login page returned non-success status", "status", resp.StatusCode)
		return
	}
	m.log.Debug("login page session initialized")
}

// AuthHeaders returns the base headers plus the bearer authorization header.
func (m *Manager) AuthHeaders() (http.Header, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token == "" {
		return nil, fmt.Errorf("%w: not logged in, token is missing", ErrAuth)
	}
	h := m.sess.Headers()
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

// Invalidate drops the cached token so the next Login re-authenticates.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	m.log.Info("auth token invalidated")
}

// HasToken reports whether a token is cached.
func (m *Manager) HasToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != ""
}

// tokenExpired reports whether a JWT token carries an exp claim in the past.
// Tokens that are not JWTs never expire client-side.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
