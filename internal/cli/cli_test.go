package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trymwestin/procare/internal/configflow"
	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/procare"
	"github.com/trymwestin/procare/internal/core/transport"
	"github.com/trymwestin/procare/internal/entries"
)

type fakeLinker struct{ loginErr error }

func (l fakeLinker) Login(context.Context) error { return l.loginErr }

func (l fakeLinker) Kids(context.Context) ([]activity.Kid, error) {
	return []activity.Kid{{ID: "k1", Name: "Ada"}, {ID: "k2", Name: "Grace"}}, nil
}

func (l fakeLinker) Close() error { return nil }

func newFlow(store *entries.Store, l fakeLinker) *configflow.Flow {
	return configflow.New(func(auth.Credentials) (configflow.Linker, error) { return l, nil }, store, log)
}

func TestRunLinkPicksKidByNumber(t *testing.T) {
	store := entries.Open("")
	var out, prompts bytes.Buffer
	p := newPrompter(strings.NewReader("parent@example.com\nsecret\n2\n"), &prompts)

	require.NoError(t, runLink(context.Background(), p, &out, newFlow(store, fakeLinker{}), "", ""))
	require.Contains(t, out.String(), "2) Grace (k2)")
	require.Contains(t, out.String(), "Linked Grace Activities")
	require.Contains(t, prompts.String(), "Password: ")

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, entries.Data{Username: "parent@example.com", Password: "secret", KidID: "k2", KidName: "Grace"}, list[0].Data)
}

func TestRunLinkWithFlags(t *testing.T) {
	store := entries.Open("")
	p := newPrompter(strings.NewReader("secret\n"), &bytes.Buffer{})

	require.NoError(t, runLink(context.Background(), p, &bytes.Buffer{}, newFlow(store, fakeLinker{}), "u", "k1"))
	ok, err := store.Configured("k1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunLinkErrors(t *testing.T) {
	store := entries.Open("")
	p := newPrompter(strings.NewReader("secret\n"), &bytes.Buffer{})
	err := runLink(context.Background(), p, &bytes.Buffer{}, newFlow(store, fakeLinker{loginErr: auth.ErrAuth}), "u", "k1")
	require.EqualError(t, err, "link: invalid_auth")

	require.NoError(t, store.Add(entries.NewEntry(entries.Data{KidID: "k1"})))
	p = newPrompter(strings.NewReader("secret\n"), &bytes.Buffer{})
	err = runLink(context.Background(), p, &bytes.Buffer{}, newFlow(store, fakeLinker{}), "u", "k1")
	require.EqualError(t, err, "link: already_configured")

	p = newPrompter(strings.NewReader("secret\n"), &bytes.Buffer{})
	err = runLink(context.Background(), p, &bytes.Buffer{}, newFlow(store, fakeLinker{}), "u", "k9")
	require.EqualError(t, err, "link: invalid_kid")

	p = newPrompter(strings.NewReader(""), &bytes.Buffer{})
	err = runLink(context.Background(), p, &bytes.Buffer{}, newFlow(store, fakeLinker{}), "", "")
	require.Error(t, err)
}

func TestRenderTimeline(t *testing.T) {
	var out bytes.Buffer
	renderTimeline(&out, "Ada Activities", []activity.Record{
		{ID: "1", Timestamp: "2024-03-01T12:30:00Z", Title: "Meal: Lunch", Details: "Pasta (All)", Staff: "Ms. Lee"},
	})
	s := out.String()
	require.Contains(t, s, "Ada Activities")
	require.Contains(t, s, "2024-03-01 12:30")
	require.Contains(t, s, "Meal: Lunch")
	require.Contains(t, s, "Pasta (All)")
	require.Contains(t, s, "staff: Ms. Lee")

	out.Reset()
	renderTimeline(&out, "Empty", nil)
	require.Contains(t, out.String(), "no activities")
}

func TestPrintActivities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions/":
			json.NewEncoder(w).Encode(map[string]string{"auth_token": "tok"}) //nolint:errcheck
		case "/api/web/parent/daily_activities/":
			if r.URL.Query().Get("kid_id") == "bad" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"daily_activities": []map[string]any{{ //nolint:errcheck
				"id": "a1", "activity_type": "bathroom_activity", "activity_time": "2024-03-01T10:00:00Z",
				"data": map[string]any{"sub_type": "wet"},
			}}})
		}
	}))
	defer srv.Close()

	opts := procare.Options{Hosts: transport.Hosts{Auth: srv.URL, API: srv.URL, Web: srv.URL}, Timeout: 5 * time.Second}
	good := entries.NewEntry(entries.Data{Username: "u", Password: "p", KidID: "k1", KidName: "Ada"})
	bad := entries.NewEntry(entries.Data{Username: "u", Password: "p", KidID: "bad", KidName: "Zed"})

	var out bytes.Buffer
	err := printActivities(context.Background(), &out, opts, []entries.Entry{good, bad})
	require.ErrorContains(t, err, "1 of 2 entries failed")
	require.Contains(t, out.String(), "Diaper: wet")
	require.Contains(t, out.String(), "error: ")
}

func TestEntriesAndUnlinkCommands(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "entries.yaml")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("entries:\n  path: "+storePath+"\n"), 0o600))

	e := entries.NewEntry(entries.Data{Username: "u", KidID: "k1", KidName: "Ada"})
	require.NoError(t, entries.Open(storePath).Add(e))

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		err := rootCmd.Execute()
		return out.String(), err
	}

	out, err := run("entries")
	require.NoError(t, err)
	require.Contains(t, out, "Ada Activities")
	require.Contains(t, out, e.ID)

	out, err = run("unlink", e.ID)
	require.NoError(t, err)
	require.Contains(t, out, "Removed entry")

	_, err = run("unlink", e.ID)
	require.True(t, errors.Is(err, entries.ErrNotFound))

	out, err = run("entries")
	require.NoError(t, err)
	require.Contains(t, out, "No linked kids")
}
