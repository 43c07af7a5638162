// Package integration sets up and tears down the runtime of each linked
// account: its API session, coordinator, state store and sensor.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/auth"
	"github.com/trymwestin/procare/internal/core/coordinator"
	"github.com/trymwestin/procare/internal/core/procare"
	"github.com/trymwestin/procare/internal/core/state"
	"github.com/trymwestin/procare/internal/entries"
	"github.com/trymwestin/procare/internal/observability"
	"github.com/trymwestin/procare/internal/sensor"
)

var (
	// ErrNotLoaded is returned for an entry id with no runtime.
	ErrNotLoaded = errors.New("integration: entry not loaded")
	// ErrAlreadyLoaded is returned when an entry is set up twice.
	ErrAlreadyLoaded = errors.New("integration: entry already loaded")
)

// Options configures every runtime the hub creates.
type Options struct {
	Procare        procare.Options
	Interval       time.Duration
	RefreshTimeout time.Duration
}

// Runtime is everything that lives for one loaded entry.
type Runtime struct {
	Entry       entries.Entry
	Client      *procare.Client
	Store       *state.Store
	Coordinator *coordinator.Coordinator
	Sensor      *sensor.Sensor
}

// Hub owns the runtimes of all loaded entries.
type Hub struct {
	opts Options
	bus  *state.EventBus
	log  *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewHub creates an empty hub publishing to bus.
func NewHub(opts Options, bus *state.EventBus, log *slog.Logger) *Hub {
	return &Hub{
		opts:     opts,
		bus:      bus,
		log:      log,
		runtimes: make(map[string]*Runtime),
	}
}

// Bus returns the event bus shared by all runtimes.
func (h *Hub) Bus() *state.EventBus {
	return h.bus
}

// Setup loads entry: it opens a session, runs the first refresh and starts
// periodic polling. A failed first refresh is logged, not returned.
func (h *Hub) Setup(ctx context.Context, entry entries.Entry) (*Runtime, error) {
	h.mu.Lock()
	if _, ok := h.runtimes[entry.ID]; ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, entry.ID)
	}
	h.mu.Unlock()

	log := h.log.With("entry_id", entry.ID, "kid_id", entry.Data.KidID)
	client, err := procare.Open(h.opts.Procare, auth.Credentials{
		Username: entry.Data.Username,
		Password: entry.Data.Password,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("integration: setup %s: %w", entry.ID, err)
	}

	store := state.NewStore(entry.ID, entry.Data.KidID, h.bus, log)
	rt := &Runtime{
		Entry:  entry,
		Client: client,
		Store:  store,
		Coordinator: coordinator.New(entry.Data.KidID, client, store, coordinator.Options{
			Interval: h.opts.Interval,
			Timeout:  h.opts.RefreshTimeout,
		}, log),
		Sensor: sensor.New(activity.Kid{ID: entry.Data.KidID, Name: entry.Data.KidName}, store),
	}

	if err := rt.Coordinator.Refresh(ctx); err != nil {
		log.Warn("initial refresh failed", "error", err)
	}

	h.mu.Lock()
	if _, ok := h.runtimes[entry.ID]; ok {
		h.mu.Unlock()
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, entry.ID)
	}
	h.runtimes[entry.ID] = rt
	h.mu.Unlock()

	// The poll loop outlives the caller's request.
	if err := rt.Coordinator.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("integration: setup %s: %w", entry.ID, err)
	}

	h.bus.Publish(state.Event{Type: state.EventEntryAdded, EntryID: entry.ID, Data: entry})
	log.Info("entry loaded", "title", entry.Title, "interval", rt.Coordinator.Interval())
	return rt, nil
}

// Unload stops polling for the entry and closes its session.
func (h *Hub) Unload(ctx context.Context, entryID string) error {
	h.mu.Lock()
	rt, ok := h.runtimes[entryID]
	delete(h.runtimes, entryID)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, entryID)
	}

	var errs []error
	if err := rt.Coordinator.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := rt.Client.Close(); err != nil {
		errs = append(errs, err)
	}
	observability.ForgetKid(rt.Entry.Data.KidID)

	h.bus.Publish(state.Event{Type: state.EventEntryRemoved, EntryID: entryID, Data: rt.Entry})
	h.log.Info("entry unloaded", "entry_id", entryID)
	return errors.Join(errs...)
}

// Close unloads every entry.
func (h *Hub) Close(ctx context.Context) error {
	var errs []error
	for _, rt := range h.Runtimes() {
		if err := h.Unload(ctx, rt.Entry.ID); err != nil && !errors.Is(err, ErrNotLoaded) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Runtime returns the runtime of a loaded entry.
func (h *Hub) Runtime(entryID string) (*Runtime, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rt, ok := h.runtimes[entryID]
	return rt, ok
}

// Runtimes returns all loaded runtimes ordered by title.
func (h *Hub) Runtimes() []*Runtime {
	h.mu.Lock()
	out := make([]*Runtime, 0, len(h.runtimes))
	for _, rt := range h.runtimes {
		out = append(out, rt)
	}
	h.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry.Title != out[j].Entry.Title {
			return out[i].Entry.Title < out[j].Entry.Title
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	return out
}

// Refresh runs an immediate refresh for the entry.
func (h *Hub) Refresh(ctx context.Context, entryID string) error {
	rt, ok := h.Runtime(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, entryID)
	}
	return rt.Coordinator.Refresh(ctx)
}

// RequestRefresh asks the entry's poll loop to refresh soon.
func (h *Hub) RequestRefresh(entryID string) error {
	rt, ok := h.Runtime(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, entryID)
	}
	rt.Coordinator.RequestRefresh()
	return nil
}
