package bms

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/asmcc/my48vdc/internal/can"
)

func TestNewDecoderDefaults(t *testing.T) {
	r := newRig(t, false, nil)
	s := r.d.Snapshot()
	if s.CellCount != 1 || len(s.Cells) != 1 {
		t.Errorf("expected one placeholder cell, got count=%d len=%d", s.CellCount, len(s.Cells))
	}
	if s.CellMidVoltage != 3.375 {
		t.Errorf("CellMidVoltage = %v, want 3.375", s.CellMidVoltage)
	}
	if r.d.Ready() || s.Ready {
		t.Error("new decoder should not be ready")
	}
	if len(r.opened) != 0 {
		t.Errorf("buses opened before first cycle: %v", r.opened)
	}
	if r.d.ConnectionName() != "CAN can0" {
		t.Errorf("ConnectionName = %q", r.d.ConnectionName())
	}
}

func TestPollCycleBothSilent(t *testing.T) {
	r := newRig(t, true, nil)
	before := r.d.Snapshot()

	err := r.d.PollCycle(testContext(t))
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if !reflect.DeepEqual(before, r.d.Snapshot()) {
		t.Error("silent cycle mutated the snapshot")
	}
	if r.primary.Calls != 1 || r.secondary.Calls != 1 {
		t.Errorf("expected one read per bus, got primary=%d secondary=%d", r.primary.Calls, r.secondary.Calls)
	}
	p, s := r.d.Health()
	if !p.Silent || !s.Silent {
		t.Errorf("expected both buses silent, got %+v %+v", p, s)
	}
	if r.d.Refresh(testContext(t)) {
		t.Error("Refresh should report failure on a silent cycle")
	}
}

func TestPollCycleTransportError(t *testing.T) {
	calls := 0
	open := func(name string) (can.Bus, error) {
		calls++
		return nil, errors.New("no such device")
	}
	d := New(DefaultConfig(), open, WithLogger(quietLogger()))

	err := d.PollCycle(testContext(t))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if d.Refresh(testContext(t)) {
		t.Error("Refresh should report failure")
	}
	if calls != 2 {
		t.Errorf("expected open retried on every cycle, got %d calls", calls)
	}
}

func TestPollCycleSecondaryOpenFailure(t *testing.T) {
	primary := can.NewFakeBus(voltCurrTemp(5360, 0, 200))
	open := func(name string) (can.Bus, error) {
		if name == "can1" {
			return nil, errors.New("no such device")
		}
		return primary, nil
	}
	cfg := DefaultConfig()
	cfg.Secondary = "can1"
	d := New(cfg, open, WithLogger(quietLogger()))
	if err := d.PollCycle(testContext(t)); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if primary.Calls != 0 {
		t.Error("no frames should be read when a configured bus fails to open")
	}
}

func TestPrimaryOnlyMode(t *testing.T) {
	r := newRig(t, false, nil)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)

	if r.secondary.Calls != 0 {
		t.Errorf("unconfigured secondary bus was read %d times", r.secondary.Calls)
	}
	if len(r.opened) != 1 || r.opened[0] != "can0" {
		t.Errorf("opened = %v, want [can0]", r.opened)
	}
	_, s := r.d.Health()
	if !s.Disabled || !s.Silent {
		t.Errorf("secondary health = %+v", s)
	}
}

func TestBootstrapOpensGateAndSizesCells(t *testing.T) {
	r := newRig(t, false, nil)
	r.bootstrap(t)

	s := r.d.Snapshot()
	if !s.Ready {
		t.Error("snapshot should report ready")
	}
	if s.CellCount != 16 || len(s.Cells) != 16 {
		t.Fatalf("expected 16 cells, got count=%d len=%d", s.CellCount, len(s.Cells))
	}
	for i, c := range s.Cells {
		if c.Voltage != 3.35 {
			t.Errorf("cell %d voltage = %v, want simulated 3.35", i, c.Voltage)
		}
	}
	if !s.ChargeFET || s.DischargeFET || !s.BalanceFET {
		t.Errorf("FETs = %v %v %v", s.ChargeFET, s.DischargeFET, s.BalanceFET)
	}
	// balancing bits before the gate opens do not reach individual cells
	if s.Cells[0].Balance {
		t.Error("per-cell balance applied before ready")
	}
	if r.d.Diagnostics().Gate != 0xFF {
		t.Errorf("gate mask = %08b", r.d.Diagnostics().Gate)
	}

	// balancing bitmap after ready sets cells 1 and 3
	r.primary.Push(systemStatus(1, 0x0005))
	r.cycle(t)
	s = r.d.Snapshot()
	for i, c := range s.Cells {
		want := i == 0 || i == 2
		if c.Balance != want {
			t.Errorf("cell %d balance = %v, want %v", i, c.Balance, want)
		}
	}
}

func TestCellCountFixedAfterReady(t *testing.T) {
	r := newRig(t, false, nil)
	r.bootstrap(t)

	// a pack voltage that would now imply 8 cells
	r.primary.Push(voltCurrTemp(2680, 0, 200))
	r.primary.Push(bootstrapFrames()[1:]...)
	r.cycle(t)

	s := r.d.Snapshot()
	if s.CellCount != 16 || len(s.Cells) != 16 {
		t.Errorf("cell collection resized after ready: count=%d len=%d", s.CellCount, len(s.Cells))
	}
}

func TestCellCountFallback(t *testing.T) {
	r := newRig(t, false, nil)
	frames := bootstrapFrames()
	frames[0] = voltCurrTemp(0, 0, 200)
	r.primary.Push(frames...)
	r.cycle(t)
	if s := r.d.Snapshot(); s.CellCount != DefaultCellCount || len(s.Cells) != DefaultCellCount {
		t.Errorf("expected fallback to %d cells, got %d", DefaultCellCount, s.CellCount)
	}
}

func TestSimulatedCellsFromMinMax(t *testing.T) {
	r := newRig(t, false, nil)
	r.bootstrap(t)

	r.primary.Push(minMaxCell(3400, 3300))
	r.cycle(t)
	for i, c := range r.d.Snapshot().Cells {
		if c.Voltage != 3.35 {
			t.Errorf("cell %d = %v, want 3.35", i, c.Voltage)
		}
	}
}

func TestSecondaryCellsOverrideSimulation(t *testing.T) {
	r := newRig(t, true, nil)
	r.primary.Push(bootstrapFrames()...)
	// cell frames before ready are dropped
	r.secondary.Push(frame(0x4008001, cat(be16(3100), be16(3100), be16(3100), be16(3100))...))
	r.cycle(t)
	if c := r.d.Snapshot().Cells[0].Voltage; c != 3.35 {
		t.Fatalf("cell 1 = %v, want simulated 3.35", c)
	}

	r.secondary.Push(frame(0x4008001, cat(be16(3201), be16(3202), be16(3203), be16(3204))...))
	r.secondary.Push(frame(0x4038001, cat(be16(3301), be16(3302), be16(3303), be16(3304))...))
	// the failing secondary is retried after SecondarySkip slots
	r.filler(12)
	r.cycle(t)

	s := r.d.Snapshot()
	want := map[int]float64{0: 3.201, 1: 3.202, 2: 3.203, 3: 3.204, 4: 3.35, 12: 3.301, 15: 3.304}
	for i, v := range want {
		if s.Cells[i].Voltage != v {
			t.Errorf("cell %d = %v, want %v", i+1, s.Cells[i].Voltage, v)
		}
	}

	// per-cell values win over a fresh aggregate min/max
	r.primary.Push(minMaxCell(3400, 3300))
	r.cycle(t)
	if got := r.d.Snapshot().Cells[0].Voltage; got != 3.201 {
		t.Errorf("cell 1 = %v after min/max, want 3.201", got)
	}

	// stale per-cell values fall back to simulation
	r.clock.Advance(121 * time.Second)
	r.primary.Push(minMaxCell(3400, 3300))
	r.cycle(t)
	for i, c := range r.d.Snapshot().Cells {
		if c.Voltage != 3.35 {
			t.Errorf("cell %d = %v after expiry, want 3.35", i+1, c.Voltage)
		}
	}
}

func TestCellGroupBeyondCollectionIgnored(t *testing.T) {
	r := newRig(t, true, nil)
	frames := bootstrapFrames()
	frames[0] = voltCurrTemp(2680, 0, 200) // 8 cells
	r.primary.Push(frames...)
	r.cycle(t)
	if n := len(r.d.Snapshot().Cells); n != 8 {
		t.Fatalf("expected 8 cells, got %d", n)
	}

	r.secondary.Push(frame(0x4038001, cat(be16(3301), be16(3302), be16(3303), be16(3304))...))
	r.filler(12)
	r.cycle(t)
	if n := len(r.d.Snapshot().Cells); n != 8 {
		t.Errorf("cell collection grew to %d", n)
	}

	// nothing was written, so the min/max fallback must still apply
	r.primary.Push(minMaxCell(3200, 3100))
	r.cycle(t)
	for i, c := range r.d.Snapshot().Cells {
		if c.Voltage != round3((3.2+3.1)/2) {
			t.Errorf("cell %d = %v, want simulated %v", i+1, c.Voltage, round3((3.2+3.1)/2))
		}
	}
}

func TestRetainedCellsWhenNothingFresh(t *testing.T) {
	r := newRig(t, false, nil)
	r.bootstrap(t)

	r.clock.Advance(121 * time.Second)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)
	for i, c := range r.d.Snapshot().Cells {
		if c.Voltage != 3.35 {
			t.Errorf("cell %d = %v, want retained 3.35", i+1, c.Voltage)
		}
	}
}

func TestAlarmResetAfterTimeout(t *testing.T) {
	r := newRig(t, false, nil)
	r.primary.Push(alarms(0x359, 0, 0, 0, 0, 0x01, 0, 0, 0))
	r.cycle(t)
	if got := r.d.Snapshot().Protection.Get(HighCellVoltage); got != Alarm {
		t.Fatalf("HighCellVoltage = %s, want alarm", got)
	}

	r.clock.Advance(119 * time.Second)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)
	if got := r.d.Snapshot().Protection.Get(HighCellVoltage); got != Alarm {
		t.Errorf("alarm cleared early: %s", got)
	}

	r.clock.Advance(2 * time.Second)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)
	if p := r.d.Snapshot().Protection; p != (Protection{}) {
		t.Errorf("expected all normal after timeout, got %v", p)
	}

	// stored bytes were cleared too, so a fresh battery group stands alone
	r.primary.Push(alarms(0x110, 0x02))
	r.cycle(t)
	p := r.d.Snapshot().Protection
	if p.Get(HighCellVoltage) != Normal || p.Get(LowCellVoltage) != Warning {
		t.Errorf("unexpected protection after reset: %v", p)
	}
}

func TestAlarmGroupsCombine(t *testing.T) {
	r := newRig(t, false, nil)
	r.primary.Push(
		alarms(0x359, 0x01),
		alarms(0x110, 0, 0, 0, 0, 0x01),
	)
	r.cycle(t)
	if got := r.d.Snapshot().Protection.Get(HighCellVoltage); got != Alarm {
		t.Errorf("HighCellVoltage = %s, want alarm from battery group", got)
	}
}

func TestFETResetAfterTimeout(t *testing.T) {
	r := newRig(t, false, nil)
	r.bootstrap(t)
	r.primary.Push(systemStatus(2, 0xFFFF))
	r.cycle(t)
	if s := r.d.Snapshot(); !s.DischargeFET || !s.Cells[15].Balance {
		t.Fatalf("expected discharge and balancing, got %+v", s)
	}

	r.clock.Advance(121 * time.Second)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)
	s := r.d.Snapshot()
	if s.ChargeFET || s.DischargeFET || s.BalanceFET {
		t.Errorf("FETs not reset: %v %v %v", s.ChargeFET, s.DischargeFET, s.BalanceFET)
	}
	for i, c := range s.Cells {
		if c.Balance {
			t.Errorf("cell %d still balancing", i+1)
		}
	}
}

func TestSecondaryThrottling(t *testing.T) {
	r := newRig(t, true, nil)
	for i := 0; i < 25; i++ {
		r.primary.Push(voltCurrTemp(5360, 0, 200))
	}
	r.cycle(t)
	if r.primary.Calls != 25 {
		t.Errorf("primary calls = %d, want 25", r.primary.Calls)
	}
	// first slot, then every 10th slot while failing
	if r.secondary.Calls != 3 {
		t.Errorf("secondary calls = %d, want 3", r.secondary.Calls)
	}
	_, h := r.d.Health()
	if h.Timeouts != 3 {
		t.Errorf("secondary timeouts = %d, want 3", h.Timeouts)
	}
}

func TestSecondaryCeiling(t *testing.T) {
	r := newRig(t, true, func(c *Config) {
		c.SecondarySkip = 1
		c.MaxFrames = 100
	})

	for i := 0; i < 20 && r.secondary.Calls < 1000; i++ {
		for j := 0; j < 100; j++ {
			r.primary.Push(frame(0x123))
		}
		r.cycle(t)
	}
	if r.secondary.Calls != 1000 {
		t.Fatalf("secondary calls = %d, want 1000", r.secondary.Calls)
	}
	_, h := r.d.Health()
	if !h.Disabled {
		t.Fatal("secondary should be disabled at the ceiling")
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 100; j++ {
			r.primary.Push(frame(0x123))
		}
		r.cycle(t)
	}
	if r.secondary.Calls != 1000 {
		t.Errorf("secondary read after being disabled: %d calls", r.secondary.Calls)
	}
}

func TestSecondaryRecoveryResetsCounter(t *testing.T) {
	r := newRig(t, true, nil)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)
	if _, h := r.d.Health(); h.Timeouts == 0 {
		t.Fatal("expected secondary timeouts")
	}

	r.secondary.Push(frame(0x2098001, cat(be16(3412), []byte{7}, be16(3298), []byte{12})...))
	r.filler(12)
	r.cycle(t)
	_, h := r.d.Health()
	if h.LastMessage.IsZero() {
		t.Error("secondary LastMessage not recorded")
	}
	if h.Disabled {
		t.Error("secondary should not be disabled")
	}
}

func TestUniqueIdentifier(t *testing.T) {
	r := newRig(t, false, nil)
	if r.d.UniqueIdentifier() != "" {
		t.Error("expected empty identifier initially")
	}
	r.primary.Push(frame(0x600, []byte("SN123456")...))
	r.cycle(t)
	if r.d.UniqueIdentifier() != "" {
		t.Error("expected empty identifier with one half")
	}
	r.primary.Push(frame(0x650, []byte("78901234")...))
	r.cycle(t)
	if got := r.d.UniqueIdentifier(); got != "SN12345678901234" {
		t.Errorf("UniqueIdentifier = %q", got)
	}
}

func TestProbe(t *testing.T) {
	r := newRig(t, false, nil)
	if r.d.Probe(testContext(t), 2) {
		t.Error("Probe succeeded without data")
	}

	r = newRig(t, false, nil)
	frames := bootstrapFrames()
	r.primary.Push(frames[:4]...)
	r.primary.PushTimeouts(1)
	r.primary.Push(frames[4:]...)
	if !r.d.Probe(testContext(t), 5) {
		t.Error("Probe failed with bootstrap frames over two cycles")
	}
}

func TestPollCycleCancelled(t *testing.T) {
	r := newRig(t, false, nil)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.d.PollCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := newRig(t, false, nil)
	r.bootstrap(t)
	s := r.d.Snapshot()
	s.Cells[0].Voltage = 99
	if r.d.Snapshot().Cells[0].Voltage == 99 {
		t.Error("Snapshot shares the cell slice")
	}
}

func TestClose(t *testing.T) {
	r := newRig(t, true, nil)
	r.primary.Push(voltCurrTemp(5360, 0, 200))
	r.cycle(t)
	if err := r.d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !r.primary.Closed || !r.secondary.Closed {
		t.Error("expected both buses closed")
	}
}

// cancellingBus ends the cycle context from inside Receive.
type cancellingBus struct {
	can.FakeBus
	cancel context.CancelFunc
}

func (b *cancellingBus) Receive(ctx context.Context) (can.Frame, error) {
	b.cancel()
	return can.Frame{}, ctx.Err()
}

func TestPollCycleCancelledDuringReceive(t *testing.T) {
	for _, tc := range []struct {
		name      string
		secondary bool
	}{
		{"primary", false},
		{"secondary", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stop := &cancellingBus{cancel: cancel}
			primary := can.NewFakeBus(voltCurrTemp(5360, 0, 200))
			open := func(name string) (can.Bus, error) {
				if name == "can1" || !tc.secondary {
					return stop, nil
				}
				return primary, nil
			}
			cfg := DefaultConfig()
			cfg.Primary = "can0"
			if tc.secondary {
				cfg.Secondary = "can1"
			}
			d := New(cfg, open, WithLogger(quietLogger()))

			if err := d.PollCycle(ctx); !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			p, s := d.Health()
			if p.Silent || p.Timeouts != 0 {
				t.Errorf("primary health changed by cancellation: %+v", p)
			}
			if s.Timeouts != 0 {
				t.Errorf("secondary timeouts = %d, want 0", s.Timeouts)
			}
			if tc.secondary && s.Silent {
				t.Error("secondary marked silent by cancellation")
			}
		})
	}
}

func TestBusSilenceLoggedOnEdges(t *testing.T) {
	const silent, again = "no CAN message received", "CAN message received again"

	t.Run("primary", func(t *testing.T) {
		r := newRig(t, false, func(c *Config) { c.MaxFrames = 2 })
		steps := []struct {
			frames      int
			warn, infos int
		}{
			{0, 1, 0},
			{0, 1, 0},
			{2, 1, 1},
			{2, 1, 1},
			{0, 2, 1},
		}
		for i, st := range steps {
			r.filler(st.frames)
			r.tryCycle(t)
			if n := r.logCount(silent, "bus=primary"); n != st.warn {
				t.Errorf("cycle %d: %d silence warnings, want %d", i+1, n, st.warn)
			}
			if n := r.logCount(again, "bus=primary"); n != st.infos {
				t.Errorf("cycle %d: %d recovery messages, want %d", i+1, n, st.infos)
			}
		}
	})

	t.Run("secondary", func(t *testing.T) {
		r := newRig(t, true, func(c *Config) {
			c.MaxFrames = 2
			c.SecondarySkip = 1
		})
		highLow := frame(0x2098001, cat(be16(3412), []byte{7}, be16(3298), []byte{12})...)
		steps := []struct {
			secondary   int
			warn, infos int
		}{
			{0, 1, 0},
			{1, 1, 1},
			{1, 1, 1},
			{0, 2, 1},
		}
		for i, st := range steps {
			r.filler(2)
			for j := 0; j < st.secondary; j++ {
				r.secondary.Push(highLow)
			}
			r.cycle(t)
			if n := r.logCount(silent, "bus=secondary"); n != st.warn {
				t.Errorf("cycle %d: %d silence warnings, want %d", i+1, n, st.warn)
			}
			if n := r.logCount(again, "bus=secondary"); n != st.infos {
				t.Errorf("cycle %d: %d recovery messages, want %d", i+1, n, st.infos)
			}
		}
		if n := r.logCount(silent, "bus=primary"); n != 0 {
			t.Errorf("primary logged %d silence warnings while busy", n)
		}
	})
}

func TestCellSourceLoggedOnEdges(t *testing.T) {
	const (
		cellsOn    = "receiving cell voltages from secondary bus instead of simulated values"
		cellsOff   = "timeout receiving cell voltages on secondary bus, using simulated values"
		highLowOn  = "receiving highest and lowest cell voltages from secondary bus"
		highLowOff = "timeout receiving highest and lowest cell voltages on secondary bus, using aggregate values"
	)
	r := newRig(t, true, nil)
	r.primary.Push(bootstrapFrames()...)
	r.cycle(t)

	expect := func(step string, want map[string]int) {
		t.Helper()
		for msg, n := range want {
			if got := r.logCount(msg, "component=bms"); got != n {
				t.Errorf("%s: %q logged %d times, want %d", step, msg, got, n)
			}
		}
	}

	for i := 0; i < 2; i++ {
		r.secondary.Push(frame(0x4008001, cat(be16(3201), be16(3202), be16(3203), be16(3204))...))
		r.secondary.Push(frame(0x2098001, cat(be16(3412), []byte{7}, be16(3298), []byte{12})...))
		r.filler(12)
		r.cycle(t)
		r.clock.Advance(time.Second)
	}
	expect("receiving", map[string]int{cellsOn: 1, highLowOn: 1, cellsOff: 0, highLowOff: 0})

	for i := 0; i < 2; i++ {
		r.clock.Advance(121 * time.Second)
		r.filler(1)
		r.cycle(t)
	}
	expect("expired", map[string]int{cellsOn: 1, highLowOn: 1, cellsOff: 1, highLowOff: 1})

	r.secondary.Push(frame(0x4008001, cat(be16(3201), be16(3202), be16(3203), be16(3204))...))
	r.filler(12)
	r.cycle(t)
	expect("resumed", map[string]int{cellsOn: 2, highLowOn: 1, cellsOff: 1, highLowOff: 1})
}
