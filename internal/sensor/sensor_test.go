package sensor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/state"
)

type fixedState struct{ snap state.Snapshot }

func (f fixedState) Snapshot() state.Snapshot { return f.snap }

func TestSensorIdentity(t *testing.T) {
	s := New(activity.Kid{ID: "k1", Name: "Ada Lovelace"}, fixedState{})

	require.Equal(t, "Ada Lovelace Latest Activity", s.Name())
	require.Equal(t, "procare_k1_latest_activity", s.UniqueID())
	require.Equal(t, "mdi:child-toy", s.Icon())
	require.Equal(t, DeviceInfo{
		Identifiers:  [][2]string{{"procare_activities", "k1"}},
		Name:         "Ada Lovelace",
		Manufacturer: "Procare Connect",
		Model:        "Activity Feed",
	}, s.DeviceInfo())
}

func TestSensorStateBeforeFirstRefresh(t *testing.T) {
	s := New(activity.Kid{ID: "k1", Name: "Ada"}, fixedState{})

	require.Equal(t, "Unknown", s.State())
	require.False(t, s.Available())

	b, err := json.Marshal(s.Attributes())
	require.NoError(t, err)
	require.JSONEq(t, `{"activities":[]}`, string(b))
}

func TestSensorStateFromNewest(t *testing.T) {
	snap := state.Snapshot{
		LastUpdateSuccess: true,
		Activities: []activity.Record{
			{ID: "2", Title: "Nap Started at 1:05 PM"},
			{ID: "1", Title: "Signed In"},
		},
	}
	s := New(activity.Kid{ID: "k1", Name: "Ada"}, fixedState{snap: snap})

	require.Equal(t, "Nap Started at 1:05 PM", s.State())
	require.True(t, s.Available())
	require.Len(t, s.Attributes().Activities, 2)
}
