// Package gpio drives the alarm indicator output line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Indicator drives a single output line.
type Indicator interface {
	// Set drives the line high when on is true.
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO chip on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// AlarmLight mirrors the battery alarm state onto an indicator, writing
// only when the state changes.
type AlarmLight struct {
	ind   Indicator
	lit   bool
	known bool
}

// NewAlarmLight wraps ind. A nil indicator makes every update a no-op.
func NewAlarmLight(ind Indicator) *AlarmLight {
	return &AlarmLight{ind: ind}
}

// Update lights the indicator while alarm is true.
func (a *AlarmLight) Update(alarm bool) error {
	if a.ind == nil || (a.known && a.lit == alarm) {
		return nil
	}
	if err := a.ind.Set(alarm); err != nil {
		a.known = false
		return err
	}
	a.lit = alarm
	a.known = true
	return nil
}

// Lit reports the last state written.
func (a *AlarmLight) Lit() bool {
	return a.known && a.lit
}

// Close switches the indicator off and releases it. The off write is skipped
// only when the indicator is known to be off already.
func (a *AlarmLight) Close() error {
	if a.ind == nil {
		return nil
	}
	var errs []error
	if !a.known || a.lit {
		if err := a.ind.Set(false); err != nil {
			errs = append(errs, fmt.Errorf("switch alarm light off: %w", err))
		}
		a.lit = false
	}
	if err := a.ind.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
