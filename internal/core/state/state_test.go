package state

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trymwestin/procare/internal/core/activity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStoreSetActivitiesPublishes(t *testing.T) {
	bus := NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := NewStore("entry-1", "kid-1", bus, discardLogger())
	at := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	s.SetActivities([]activity.Record{{ID: "1", Title: "Meal: Lunch"}}, at)

	snap := s.Snapshot()
	require.True(t, snap.LastUpdateSuccess)
	require.Equal(t, at, snap.LastUpdated)
	require.Len(t, snap.Activities, 1)

	evt := <-ch
	require.Equal(t, EventActivitiesUpdate, evt.Type)
	require.Equal(t, "entry-1", evt.EntryID)
	require.Equal(t, []activity.Record{{ID: "1", Title: "Meal: Lunch"}}, evt.Data)
}

func TestStoreFailureKeepsActivities(t *testing.T) {
	bus := NewEventBus(discardLogger())
	s := NewStore("entry-1", "kid-1", bus, discardLogger())
	s.SetActivities([]activity.Record{{ID: "1"}}, time.Now())

	s.SetUpdateFailed(errors.New("boom"), time.Now())
	snap := s.Snapshot()
	require.False(t, snap.LastUpdateSuccess)
	require.Equal(t, "boom", snap.LastError)
	require.False(t, snap.ReauthRequired)
	require.Len(t, snap.Activities, 1)

	s.SetReauthRequired(errors.New("expired"), time.Now())
	snap = s.Snapshot()
	require.True(t, snap.ReauthRequired)
	require.Len(t, snap.Activities, 1)

	s.SetActivities(nil, time.Now())
	snap = s.Snapshot()
	require.True(t, snap.LastUpdateSuccess)
	require.False(t, snap.ReauthRequired)
	require.Empty(t, snap.LastError)
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewStore("entry-1", "kid-1", NewEventBus(discardLogger()), discardLogger())
	s.SetActivities([]activity.Record{{ID: "1", Title: "a"}}, time.Now())

	snap := s.Snapshot()
	snap.Activities[0].Title = "changed"
	require.Equal(t, "a", s.Snapshot().Activities[0].Title)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	bus.Publish(Event{Type: EventEntryAdded})
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(Event{Type: EventEntryAdded, EntryID: "a"})
	bus.Publish(Event{Type: EventEntryAdded, EntryID: "b"})

	evt := <-ch
	require.Equal(t, "a", evt.EntryID)
	require.False(t, evt.Timestamp.IsZero())
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}
