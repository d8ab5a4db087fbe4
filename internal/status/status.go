// Package status provides a thread-safe status tracker for the bms-monitor
// daemon. It is read by the HTTP handlers and the MQTT lifecycle events
// while the poll loop writes to it.
package status

import (
	"sync"
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	Topic       string
	HTTPPort    string
	Primary     string
	Secondary   string // empty when running on the primary bus alone
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: safe to use after the lock is released.
type Snapshot struct {
	Battery      bms.Snapshot
	BatteryID    string
	Primary      bms.BusHealth
	Secondary    bms.BusHealth
	LastUpdate   time.Time // last successful poll cycle
	Cycles       int
	FailedCycles int

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the decoder has seen all bootstrap frames.
func (s Snapshot) Ready() bool {
	return s.Battery.Ready
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records a successful poll cycle. The battery snapshot must be a
// copy the caller no longer mutates.
func (t *Tracker) Update(battery bms.Snapshot, id string, primary, secondary bms.BusHealth, at time.Time) {
	t.mu.Lock()
	t.snap.Battery = battery
	t.snap.BatteryID = id
	t.snap.Primary = primary
	t.snap.Secondary = secondary
	t.snap.LastUpdate = at
	t.snap.Cycles++
	t.mu.Unlock()
}

// RecordFailure records a poll cycle that produced no data. The last
// battery values stay visible.
func (t *Tracker) RecordFailure(primary, secondary bms.BusHealth) {
	t.mu.Lock()
	t.snap.Primary = primary
	t.snap.Secondary = secondary
	t.snap.FailedCycles++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Battery = t.snap.Battery.Clone()
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
