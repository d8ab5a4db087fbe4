// Package logic turns successive protection states into debounced alarm
// transitions and decides when a heartbeat is due.
// This package has NO external dependencies (no CAN, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
)

// Event is one debounced severity change of a protection condition.
type Event struct {
	Timestamp time.Time
	Condition bms.Condition
	From      bms.Severity
	To        bms.Severity
}

// Raised reports whether the condition got worse.
func (e Event) Raised() bool {
	return e.To > e.From
}

// ConditionState tracks debounce state for a single condition.
type ConditionState struct {
	// Current stable (debounced) severity
	Stable bms.Severity
	// Pending severity during debounce
	Pending bms.Severity
	// Whether a pending severity is being observed
	HasPending bool
	// Time when pending severity was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input is one protection sample.
type Input struct {
	Protection bms.Protection
	Time       time.Time
}

// EventCounts tracks the number of transitions since startup.
type EventCounts struct {
	Warnings int // transitions into warning
	Alarms   int // transitions into alarm
	Cleared  int // transitions back to normal
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
