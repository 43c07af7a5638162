package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEndpointsFor(t *testing.T) {
	ep := EndpointsFor(Hosts{Auth: "https://auth.example/", API: "https://api.example", Web: "https://web.example"})
	require.Equal(t, "https://web.example/login", ep.WebLogin)
	require.Equal(t, "https://auth.example/sessions/", ep.Login)
	require.Equal(t, "https://api.example/api/web/parent/kids/", ep.Kids)
	require.Equal(t, "https://api.example/api/web/parent/daily_activities/", ep.Activities)
}

func TestHeadersAreCopies(t *testing.T) {
	s, err := NewSession(Options{}, discardLogger())
	require.NoError(t, err)

	h := s.Headers()
	require.Equal(t, DefaultWebHost, h.Get("Origin"))
	require.Equal(t, DefaultWebHost+"/", h.Get("Referer"))
	require.Equal(t, "cors", h.Get("sec-fetch-mode"))

	h.Set("Authorization", "Bearer x")
	require.Empty(t, s.Headers().Get("Authorization"))
}

func TestSessionKeepsCookies(t *testing.T) {
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
			return
		}
		if c, err := r.Cookie("sid"); err == nil && c.Value == "abc" {
			sawCookie = true
		}
	}))
	defer srv.Close()

	s, err := NewSession(Options{}, discardLogger())
	require.NoError(t, err)

	for _, path := range []string{"/set", "/check"} {
		req, err := s.NewRequest(context.Background(), http.MethodGet, srv.URL+path, s.Headers(), nil)
		require.NoError(t, err)
		resp, err := s.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	require.True(t, sawCookie)
}

func TestCloseRejectsRequests(t *testing.T) {
	s, err := NewSession(Options{}, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, s.Closed())

	req, err := s.NewRequest(context.Background(), http.MethodGet, "http://127.0.0.1:1/", nil, nil)
	require.NoError(t, err)
	_, err = s.Do(req)
	require.ErrorIs(t, err, ErrClosed)
}
