package seestar

import (
	"encoding/json"
	"sync"
	"time"
)

// PointingStatus mirrors the device's mount pointing state.
type PointingStatus struct {
	RA        float64
	Dec       float64
	Altitude  float64
	Azimuth   float64
	Tracking  bool
	UpdatedAt time.Time
}

// PiStatus mirrors the device's onboard Pi/system telemetry.
type PiStatus struct {
	BatteryPercent int
	TemperatureC   float64
	FreeStorageMB  int64
	UpdatedAt      time.Time
}

// ViewStatus mirrors the device's current view/session state.
type ViewStatus struct {
	Mode      string
	Target    string
	UpdatedAt time.Time
}

// StackStatus mirrors the device's live-stacking progress.
type StackStatus struct {
	FramesStacked int
	FramesDropped int
	FramesSkipped int
	UpdatedAt     time.Time
}

// Snapshot is a copy-on-read view of everything StatusStore knows, safe to
// retain and inspect after the call returns.
type Snapshot struct {
	ControlConnected bool
	ImagingConnected bool
	Pointing         PointingStatus
	Pi               PiStatus
	View             ViewStatus
	Stack            StackStatus
}

// StatusStore aggregates the latest known device status from event traffic.
// Each field group is guarded by its own mutex so an update to one group
// (say, StackingStatus) never blocks a reader of another (say, PiStatus),
// and Snapshot never returns a torn read of a single group.
type StatusStore struct {
	connMu           sync.Mutex
	controlConnected bool
	imagingConnected bool

	pointingMu sync.Mutex
	pointing   PointingStatus

	piMu sync.Mutex
	pi   PiStatus

	viewMu sync.Mutex
	view   ViewStatus

	stackMu sync.Mutex
	stack   StackStatus
}

func NewStatusStore() *StatusStore {
	return &StatusStore{}
}

// Snapshot copies every field group under its own lock and returns the
// result. Concurrent updates during the copy can interleave across groups
// but never within one.
func (s *StatusStore) Snapshot() Snapshot {
	s.connMu.Lock()
	snap := Snapshot{ControlConnected: s.controlConnected, ImagingConnected: s.imagingConnected}
	s.connMu.Unlock()

	s.pointingMu.Lock()
	snap.Pointing = s.pointing
	s.pointingMu.Unlock()

	s.piMu.Lock()
	snap.Pi = s.pi
	s.piMu.Unlock()

	s.viewMu.Lock()
	snap.View = s.view
	s.viewMu.Unlock()

	s.stackMu.Lock()
	snap.Stack = s.stack
	s.stackMu.Unlock()

	return snap
}

func (s *StatusStore) SetControlConnected(v bool) {
	s.connMu.Lock()
	s.controlConnected = v
	s.connMu.Unlock()
}

func (s *StatusStore) SetImagingConnected(v bool) {
	s.connMu.Lock()
	s.imagingConnected = v
	s.connMu.Unlock()
}

// ApplyEvent updates the relevant field group from a decoded device Event.
// Unrecognized kinds and malformed payloads are ignored; StatusStore is
// best-effort, never a source of protocol errors.
func (s *StatusStore) ApplyEvent(ev Event) {
	switch ev.Kind {
	case EventPiStatus:
		var p struct {
			BatteryPercent int     `json:"battery_percent"`
			TemperatureC   float64 `json:"temperature_c"`
			FreeStorageMB  int64   `json:"free_storage_mb"`
		}
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		s.piMu.Lock()
		s.pi = PiStatus{BatteryPercent: p.BatteryPercent, TemperatureC: p.TemperatureC, FreeStorageMB: p.FreeStorageMB, UpdatedAt: ev.Timestamp}
		s.piMu.Unlock()

	case EventViewStateChanged:
		var v struct {
			Mode   string `json:"mode"`
			Target string `json:"target"`
		}
		if json.Unmarshal(ev.Payload, &v) != nil {
			return
		}
		s.viewMu.Lock()
		s.view = ViewStatus{Mode: v.Mode, Target: v.Target, UpdatedAt: ev.Timestamp}
		s.viewMu.Unlock()

	case EventStackingStatus:
		var st struct {
			FramesStacked int `json:"frames_stacked"`
			FramesDropped int `json:"frames_dropped"`
			FramesSkipped int `json:"frames_skipped"`
		}
		if json.Unmarshal(ev.Payload, &st) != nil {
			return
		}
		s.stackMu.Lock()
		s.stack = StackStatus{FramesStacked: st.FramesStacked, FramesDropped: st.FramesDropped, FramesSkipped: st.FramesSkipped, UpdatedAt: ev.Timestamp}
		s.stackMu.Unlock()

	case EventInternalDisconnected:
		s.SetControlConnected(false)

	case EventInternalReconnected:
		s.SetControlConnected(true)
	}
}

// ApplyPointing updates pointing status directly, for callers that poll a
// get_pointing-style command rather than waiting on an event.
func (s *StatusStore) ApplyPointing(p PointingStatus) {
	p.UpdatedAt = time.Now()
	s.pointingMu.Lock()
	s.pointing = p
	s.pointingMu.Unlock()
}
