// Package procare provides a public facade re-exporting core types
// for external consumers of this module.
package procare

import (
	"encoding/json"
	"log/slog"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/coordinator"
	"github.com/trymwestin/procare/internal/core/procare"
	"github.com/trymwestin/procare/internal/core/state"
	"github.com/trymwestin/procare/internal/core/transport"
)

// Re-export core types for external use.
type (
	// Record is one normalized activity.
	Record = activity.Record
	// Kid is a child on the account roster.
	Kid = activity.Kid
	// Credentials are the parent portal login.
	Credentials = auth.Credentials
	// Client fetches the roster and activity feed of one account.
	Client = procare.Client
	// Options configures Open.
	Options = procare.Options
	// Hosts are the Procare Connect base URLs.
	Hosts = transport.Hosts
	// APIError is a non-auth HTTP failure.
	APIError = procare.APIError
	// Snapshot is the coordinator state of one entry.
	Snapshot = state.Snapshot
	// Event represents a state change event.
	Event = state.Event
	// EventType identifies event categories.
	EventType = state.EventType
)

// Errors callers can match with errors.Is.
var (
	ErrAuth           = auth.ErrAuth
	ErrNoChildren     = procare.ErrNoChildren
	ErrReauthRequired = coordinator.ErrReauthRequired
	ErrUpdateFailed   = coordinator.ErrUpdateFailed
)

// Event type constants.
const (
	EventActivitiesUpdate = state.EventActivitiesUpdate
	EventUpdateFailed     = state.EventUpdateFailed
	EventReauthRequired   = state.EventReauthRequired
	EventEntryAdded       = state.EventEntryAdded
	EventEntryRemoved     = state.EventEntryRemoved
)

// DefaultHosts returns the production hosts.
func DefaultHosts() Hosts {
	return transport.DefaultHosts()
}

// Open creates a client for the account. The caller must Close it.
func Open(opts Options, creds Credentials, log *slog.Logger) (*Client, error) {
	return procare.Open(opts, creds, log)
}

// Normalize turns raw daily_activities items into records, newest first.
func Normalize(items []json.RawMessage, log *slog.Logger) []Record {
	return activity.Normalize(items, log)
}
