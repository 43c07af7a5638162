package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/trymwestin/procare/internal/core/activity"
)

// Snapshot is a copy of the coordinator data for one config entry.
type Snapshot struct {
	EntryID           string            `json:"entry_id"`
	KidID             string            `json:"kid_id"`
	Activities        []activity.Record `json:"activities"`
	LastUpdateSuccess bool              `json:"last_update_success"`
	LastUpdated       time.Time         `json:"last_updated"`
	LastError         string            `json:"last_error,omitempty"`
	ReauthRequired    bool              `json:"reauth_required"`
}

// EventType identifies event categories.
type EventType string

const (
	EventActivitiesUpdate EventType = "activities_update"
	EventUpdateFailed     EventType = "update_failed"
	EventReauthRequired   EventType = "reauth_required"
	EventEntryAdded       EventType = "entry_added"
	EventEntryRemoved     EventType = "entry_removed"
)

// Event represents a state change.
type Event struct {
	Type      EventType   `json:"type"`
	EntryID   string      `json:"entry_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// StateReader provides read-only access to state.
type StateReader interface {
	Snapshot() Snapshot
}

// --- EventBus ---

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers without blocking.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function.
// The channel is closed on unsubscribe.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// --- Store ---

// Store holds the latest activity list of one config entry.
type Store struct {
	mu      sync.RWMutex
	entryID string
	kidID   string
	snap    Snapshot
	bus     *EventBus
	log     *slog.Logger
}

// NewStore creates a store wired to the event bus.
func NewStore(entryID, kidID string, bus *EventBus, log *slog.Logger) *Store {
	return &Store{
		entryID: entryID,
		kidID:   kidID,
		snap:    Snapshot{EntryID: entryID, KidID: kidID},
		bus:     bus,
		log:     log,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := s.snap
	cp.Activities = append([]activity.Record(nil), s.snap.Activities...)
	return cp
}

// SetActivities replaces the activity list after a successful refresh.
func (s *Store) SetActivities(records []activity.Record, at time.Time) {
	cp := append([]activity.Record(nil), records...)

	s.mu.Lock()
	s.snap.Activities = cp
	s.snap.LastUpdateSuccess = true
	s.snap.LastUpdated = at
	s.snap.LastError = ""
	s.snap.ReauthRequired = false
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventActivitiesUpdate, EntryID: s.entryID, Timestamp: at, Data: append([]activity.Record(nil), cp...)})
}

// SetUpdateFailed marks the last refresh as failed. Activities stay as they were.
func (s *Store) SetUpdateFailed(err error, at time.Time) {
	s.mu.Lock()
	s.snap.LastUpdateSuccess = false
	s.snap.LastError = err.Error()
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventUpdateFailed, EntryID: s.entryID, Timestamp: at, Data: err.Error()})
}

// SetReauthRequired marks the entry as needing new credentials.
func (s *Store) SetReauthRequired(err error, at time.Time) {
	s.mu.Lock()
	s.snap.LastUpdateSuccess = false
	s.snap.LastError = err.Error()
	s.snap.ReauthRequired = true
	s.mu.Unlock()

	s.log.Warn("reauthentication required", "entry_id", s.entryID, "error", err)
	s.bus.Publish(Event{Type: EventReauthRequired, EntryID: s.entryID, Timestamp: at, Data: err.Error()})
}

// Bus returns the event bus the store publishes to.
func (s *Store) Bus() *EventBus {
	return s.bus
}
