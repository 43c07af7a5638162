// Package sensor exposes a linked kid's activity feed as a single
// "latest activity" entity.
package sensor

import (
	"github.com/trymwestin/procare/internal/core/activity"
	"github.com/trymwestin/procare/internal/core/state"
)

// Entity constants.
const (
	Icon         = "mdi:child-toy"
	Manufacturer = "Procare Connect"
	Model        = "Activity Feed"
	// DeviceDomain is the first half of every device identifier.
	DeviceDomain = "procare_activities"
	// UnknownState is reported before the first successful refresh or for an
	// empty feed.
	UnknownState = "Unknown"
)

// DeviceInfo groups entities of one kid into one device.
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
}

// Attributes is the extra state of the sensor.
type Attributes struct {
	Activities []activity.Record `json:"activities"`
}

// Sensor is the latest-activity entity of one kid.
type Sensor struct {
	kid   activity.Kid
	store state.StateReader
}

// New creates the sensor for kid, reading from store.
func New(kid activity.Kid, store state.StateReader) *Sensor {
	return &Sensor{kid: kid, store: store}
}

// Name is the display name.
func (s *Sensor) Name() string {
	return s.kid.Name + " Latest Activity"
}

// UniqueID identifies the entity across restarts.
func (s *Sensor) UniqueID() string {
	return "procare_" + s.kid.ID + "_latest_activity"
}

// Icon returns the entity icon.
func (s *Sensor) Icon() string {
	return Icon
}

// State is the title of the newest activity.
func (s *Sensor) State() string {
	snap := s.store.Snapshot()
	if len(snap.Activities) == 0 {
		return UnknownState
	}
	return snap.Activities[0].Title
}

// Attributes returns the whole feed, newest first.
func (s *Sensor) Attributes() Attributes {
	acts := s.store.Snapshot().Activities
	if acts == nil {
		acts = []activity.Record{}
	}
	return Attributes{Activities: acts}
}

// DeviceInfo describes the kid's device.
func (s *Sensor) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{DeviceDomain, s.kid.ID}},
		Name:         s.kid.Name,
		Manufacturer: Manufacturer,
		Model:        Model,
	}
}

// Available reports whether the last refresh succeeded.
func (s *Sensor) Available() bool {
	return s.store.Snapshot().LastUpdateSuccess
}

// Kid returns the kid the sensor belongs to.
func (s *Sensor) Kid() activity.Kid {
	return s.kid
}
