package logic

import (
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
)

// Detector tracks protection severities and detects debounced transitions.
type Detector struct {
	debounceDuration time.Duration
	conditions       [bms.NumConditions]ConditionState
	baselined        bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a new transition detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new protection sample and returns any events that should
// be emitted, in condition order. Events are only returned after every
// condition has a baseline.
func (d *Detector) Process(input Input) []Event {
	var events []Event
	for i := range d.conditions {
		c := bms.Condition(i)
		from := d.conditions[i].Stable
		if d.processCondition(&d.conditions[i], input.Protection.Get(c), input.Time) {
			events = append(events, Event{
				Timestamp: input.Time,
				Condition: c,
				From:      from,
				To:        d.conditions[i].Stable,
			})
		}
	}

	if !d.baselined {
		for i := range d.conditions {
			if !d.conditions[i].Baselined {
				return nil
			}
		}
		d.baselined = true
		return nil // the baseline itself is not a transition
	}

	for _, e := range events {
		switch e.To {
		case bms.Warning:
			d.eventCounts.Warnings++
		case bms.Alarm:
			d.eventCounts.Alarms++
		default:
			d.eventCounts.Cleared++
		}
	}
	return events
}

// processCondition handles debounce logic for a single condition.
// Returns true if the stable severity changed after the baseline.
func (d *Detector) processCondition(cs *ConditionState, sev bms.Severity, now time.Time) bool {
	if !cs.Baselined {
		if !cs.HasPending || cs.Pending != sev {
			cs.Pending = sev
			cs.HasPending = true
			cs.PendingSince = now
		}
		if now.Sub(cs.PendingSince) >= d.debounceDuration {
			cs.Stable = sev
			cs.Baselined = true
			cs.HasPending = false
		}
		return false
	}

	if sev == cs.Stable {
		cs.HasPending = false
		return false
	}

	if !cs.HasPending || cs.Pending != sev {
		cs.Pending = sev
		cs.HasPending = true
		cs.PendingSince = now
	}

	if now.Sub(cs.PendingSince) >= d.debounceDuration {
		cs.Stable = sev
		cs.HasPending = false
		return true
	}
	return false
}

// IsBaselined returns whether every condition has a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Current returns the stable severities.
func (d *Detector) Current() bms.Protection {
	var p bms.Protection
	for i, cs := range d.conditions {
		p[i] = cs.Stable
	}
	return p
}

// Counts returns the transition counts since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed or
// if interval is <= 0 (disabled). Heartbeats do not wait for the baseline:
// they report the daemon, not the battery.
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
