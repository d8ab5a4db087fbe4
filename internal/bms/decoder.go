package bms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asmcc/my48vdc/internal/can"
)

var (
	// ErrTransport means a bus could not be opened; the cycle decoded nothing.
	ErrTransport = errors.New("bms: transport failure")

	// ErrNoData means neither bus delivered a frame during the cycle.
	ErrNoData = errors.New("bms: no frames on either bus")
)

// Config holds the decoder tunables.
type Config struct {
	Primary   string // primary interface, e.g. "can0"
	Secondary string // secondary interface; empty disables it
	Bitrate   int    // informational, the kernel owns the bitrate

	InvertCurrent      bool
	DefaultCellVoltage float64 // mean cell voltage before min/max arrives

	MaxFrames        int           // frame slots per cycle, shared by both buses
	ReceiveTimeout   time.Duration // bound on each receive call
	SecondarySkip    int           // slots between reads of a failing secondary bus
	SecondaryCeiling int           // failed secondary reads before it is abandoned
	StatusTimeout    time.Duration // alarm and FET state reset after this silence
	FreshnessWindow  time.Duration // secondary field groups go stale after this
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		Primary:            "can0",
		Bitrate:            500,
		DefaultCellVoltage: 3.375,
		MaxFrames:          25,
		ReceiveTimeout:     time.Second,
		SecondarySkip:      10,
		SecondaryCeiling:   1000,
		StatusTimeout:      120 * time.Second,
		FreshnessWindow:    120 * time.Second,
	}
}

// Option customizes a Decoder.
type Option func(*Decoder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// Decoder owns the bus handles and the decoded battery state. It is driven by
// one PollCycle call per host cycle and is not safe for concurrent use; hand
// other goroutines a Snapshot copy instead.
type Decoder struct {
	cfg  Config
	rx   *receiver
	now  func() time.Time
	log  *slog.Logger
	snap Snapshot
	gate Gate
	diag Diagnostics

	aggregateAlarms AlarmBytes
	batteryAlarms   AlarmBytes

	alarmStatus  Freshness // last alarm frame from either source
	fetStatus    Freshness // last system status frame
	highLowFresh Freshness // secondary min/max pair
	minMaxFresh  Freshness // min/max pair from either bus
	cellsFresh   Freshness // per-cell frames
}

// New creates a decoder. Bus handles are opened on the first cycle.
func New(cfg Config, open can.Opener, opts ...Option) *Decoder {
	d := &Decoder{
		cfg: cfg,
		now: time.Now,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("component", "bms")
	d.rx = newReceiver(cfg, open, d.log)
	d.snap.CellMidVoltage = cfg.DefaultCellVoltage
	d.snap.CellCount = 1
	d.snap.Cells = []Cell{{}}
	return d
}

// PollCycle reads up to MaxFrames frames from both buses and decodes them.
// It returns ErrTransport (wrapped) when a bus cannot be opened and ErrNoData
// when both buses stayed silent for the whole cycle.
func (d *Decoder) PollCycle(ctx context.Context) error {
	if err := d.rx.connect(); err != nil {
		return err
	}

	d.expire(d.now())
	d.diag = Diagnostics{}

	received := 0
	remaining := d.cfg.MaxFrames
	lastSecondary := remaining
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("poll cycle: %w", err)
		}

		pf, err := d.rx.readPrimary(ctx, d.now)
		if err != nil {
			return fmt.Errorf("poll cycle: %w", err)
		}
		due := d.rx.secondaryDue(lastSecondary - remaining)
		if due {
			lastSecondary = remaining
		}
		sf, err := d.rx.readSecondary(ctx, due, d.now)
		if err != nil {
			return fmt.Errorf("poll cycle: %w", err)
		}

		if pf == nil && sf == nil {
			// both buses are silent now; further slots would only wait
			break
		}

		now := d.now()
		if pf != nil {
			remaining--
			received++
			d.dispatch(Primary, *pf, now)
		}
		if sf != nil {
			remaining--
			received++
			d.dispatch(Secondary, *sf, now)
		}

		if d.gate.Open() {
			d.initCells()
			d.snap.Ready = true
			d.log.Debug("initialisation done")
		}
	}

	d.diag.Gate = d.gate.Mask()
	d.log.Debug("receive status",
		"aggregate", fmt.Sprintf("%016b", d.diag.Aggregate),
		"battery", fmt.Sprintf("%016b", d.diag.Battery),
		"secondary", fmt.Sprintf("%016b", d.diag.Secondary),
		"init", fmt.Sprintf("%08b", d.diag.Gate))

	if received == 0 {
		return ErrNoData
	}
	d.reconcileCells()
	return nil
}

// Refresh runs one cycle and reports success, logging the failure kind.
func (d *Decoder) Refresh(ctx context.Context) bool {
	err := d.PollCycle(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNoData):
		d.log.Debug("poll cycle without data")
	case errors.Is(err, context.Canceled):
		d.log.Debug("poll cycle cancelled")
	default:
		d.log.Error("poll cycle failed", "error", err)
	}
	return false
}

// Probe runs up to attempts cycles until the bootstrap fields are complete.
func (d *Decoder) Probe(ctx context.Context, attempts int) bool {
	for i := 1; i <= attempts; i++ {
		d.log.Info("receiving data from the battery", "attempt", i, "of", attempts)
		if d.Refresh(ctx) && d.gate.Ready() {
			d.log.Info("connection test successfully completed")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

func (d *Decoder) dispatch(bus BusKind, f can.Frame, now time.Time) {
	if f.Len < 8 {
		d.log.Debug("short frame ignored", "bus", bus, "frame", f.String())
		return
	}
	if bus == Primary {
		d.decodePrimary(f, now)
	} else {
		d.decodeSecondary(f, now)
	}
}

// expire resets state whose source has gone quiet.
func (d *Decoder) expire(now time.Time) {
	if d.alarmStatus.Expire(now, d.cfg.StatusTimeout) {
		d.aggregateAlarms = AlarmBytes{}
		d.batteryAlarms = AlarmBytes{}
		d.snap.Protection = Protection{}
		d.log.Debug("resetting error and warning bits after timeout")
	}
	if d.fetStatus.Expire(now, d.cfg.StatusTimeout) {
		d.resetFETs()
		d.log.Debug("resetting MOSFET and status bits after timeout")
	}
	if d.highLowFresh.Expire(now, d.cfg.FreshnessWindow) {
		d.log.Warn("timeout receiving highest and lowest cell voltages on secondary bus, using aggregate values")
	}
	if d.cellsFresh.Expire(now, d.cfg.FreshnessWindow) {
		d.log.Warn("timeout receiving cell voltages on secondary bus, using simulated values")
	}
	d.minMaxFresh.Expire(now, d.cfg.FreshnessWindow)
}

// Snapshot returns a copy of the decoded state.
func (d *Decoder) Snapshot() Snapshot {
	return d.snap.Clone()
}

// Health returns the primary and secondary bus health.
func (d *Decoder) Health() (primary, secondary BusHealth) {
	return d.rx.primary.health, d.rx.secondary.health
}

// Diagnostics returns the receive bitmasks of the last cycle.
func (d *Decoder) Diagnostics() Diagnostics {
	return d.diag
}

// Ready reports whether all bootstrap fields have arrived.
func (d *Decoder) Ready() bool {
	return d.gate.Ready()
}

// ConnectionName identifies the physical connection.
func (d *Decoder) ConnectionName() string {
	return "CAN " + d.cfg.Primary
}

// UniqueIdentifier is the battery serial number, empty until both halves
// have arrived.
func (d *Decoder) UniqueIdentifier() string {
	if d.snap.SerialPart1 == "" || d.snap.SerialPart2 == "" {
		return ""
	}
	return d.snap.SerialPart1 + d.snap.SerialPart2
}

// Close releases both bus handles.
func (d *Decoder) Close() error {
	return d.rx.close()
}
