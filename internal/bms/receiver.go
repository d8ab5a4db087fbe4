package bms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asmcc/my48vdc/internal/can"
)

// link is one bus handle plus its health.
type link struct {
	kind   BusKind
	name   string
	bus    can.Bus
	health BusHealth
}

// receiver pulls frames from both buses with a shared per-cycle slot budget.
type receiver struct {
	primary   link
	secondary link
	open      can.Opener
	timeout   time.Duration
	skip      int
	ceiling   int
	log       *slog.Logger
}

func newReceiver(cfg Config, open can.Opener, log *slog.Logger) *receiver {
	r := &receiver{
		primary:   link{kind: Primary, name: cfg.Primary},
		secondary: link{kind: Secondary, name: cfg.Secondary},
		open:      open,
		timeout:   cfg.ReceiveTimeout,
		skip:      cfg.SecondarySkip,
		ceiling:   cfg.SecondaryCeiling,
		log:       log,
	}
	if cfg.Secondary == "" {
		r.secondary.health.Silent = true
		r.secondary.health.Disabled = true
	}
	return r
}

// connect opens any bus handle not yet acquired. A configured secondary
// that cannot be opened fails every cycle until it opens or is unset.
func (r *receiver) connect() error {
	for _, l := range []*link{&r.primary, &r.secondary} {
		if l.bus != nil || l.health.Disabled {
			continue
		}
		r.log.Debug("bus init", "bus", l.kind, "interface", l.name)
		bus, err := r.open(l.name)
		if err != nil {
			r.log.Error("bus init failed", "bus", l.kind, "interface", l.name, "error", err)
			return fmt.Errorf("%w: open %s bus %s: %w", ErrTransport, l.kind, l.name, err)
		}
		l.bus = bus
		l.health = BusHealth{}
		r.log.Debug("bus init done", "bus", l.kind, "interface", l.name)
	}
	return nil
}

// secondaryDue reports whether the secondary bus should be read in this slot.
// A healthy bus is read every slot; a failing one only after skip slots have
// passed since its last attempt, since every failed read costs a full timeout.
func (r *receiver) secondaryDue(sinceLast int) bool {
	h := &r.secondary.health
	if h.Disabled || r.secondary.bus == nil {
		return false
	}
	return h.Timeouts == 0 || sinceLast >= r.skip
}

// receive performs one bounded-wait read.
func (r *receiver) receive(ctx context.Context, l *link) (*can.Frame, error) {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	f, err := l.bus.Receive(rctx)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// readPrimary reads the primary bus and logs silence/signal edges. It only
// returns an error when ctx ended.
func (r *receiver) readPrimary(ctx context.Context, now func() time.Time) (*can.Frame, error) {
	l := &r.primary
	f, err := r.receive(ctx, l)
	if cerr := ctx.Err(); cerr != nil {
		// the cycle ended, not the bus
		return nil, cerr
	}
	if err != nil && !errors.Is(err, can.ErrTimeout) {
		r.log.Error("receive failed", "bus", l.kind, "error", err)
	}
	if f == nil {
		if !l.health.Silent {
			r.log.Warn("no CAN message received", "bus", l.kind)
		}
		l.health.Silent = true
		l.health.Timeouts++
		return nil, nil
	}
	if l.health.Silent {
		r.log.Info("CAN message received again", "bus", l.kind)
	}
	l.health.Silent = false
	l.health.Timeouts = 0
	l.health.LastMessage = now()
	return f, nil
}

// readSecondary reads the secondary bus when attempted is true and updates
// its health. A skipped slot counts as silence without touching the
// failure counter. It only returns an error when ctx ended.
func (r *receiver) readSecondary(ctx context.Context, attempted bool, now func() time.Time) (*can.Frame, error) {
	l := &r.secondary
	var f *can.Frame
	if attempted {
		var err error
		f, err = r.receive(ctx, l)
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if err != nil && !errors.Is(err, can.ErrTimeout) {
			r.log.Error("receive failed", "bus", l.kind, "error", err)
		}
	}

	if f == nil {
		if !l.health.Silent {
			r.log.Warn("no CAN message received", "bus", l.kind)
			r.log.Warn("aggregate fallback and simulated values replace missing secondary values")
		}
		l.health.Silent = true
		if attempted && l.health.Timeouts < r.ceiling {
			l.health.Timeouts++
			if l.health.Timeouts == r.ceiling {
				l.health.Disabled = true
				r.log.Warn("secondary bus will no longer be polled until restart", "timeouts", r.ceiling)
				r.log.Warn("aggregate fallback and simulated values replace missing secondary values")
			}
		}
		return nil, nil
	}

	if l.health.Silent {
		r.log.Info("CAN message received again", "bus", l.kind)
	}
	l.health.Silent = false
	l.health.Timeouts = 0
	l.health.LastMessage = now()
	return f, nil
}

func (r *receiver) close() error {
	var errs []error
	for _, l := range []*link{&r.primary, &r.secondary} {
		if l.bus == nil {
			continue
		}
		if err := l.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s bus: %w", l.kind, err))
		}
		l.bus = nil
		r.log.Debug("bus shutdown", "bus", l.kind)
	}
	return errors.Join(errs...)
}
