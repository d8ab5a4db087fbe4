package bms

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/asmcc/my48vdc/internal/can"
)

// manualClock is advanced explicitly by tests.
type manualClock struct {
	t time.Time
}

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frame builds a full 8-byte frame, zero padding the data.
func frame(id uint32, data ...byte) can.Frame {
	var b [8]byte
	copy(b[:], data)
	return can.NewFrame(id, b[:]...)
}

// shortFrame builds a frame shorter than eight bytes.
func shortFrame(id uint32, data ...byte) can.Frame {
	return can.NewFrame(id, data...)
}

func le16(v int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(v))
	return b
}

func be16(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Primary frames with realistic content.

func voltCurrTemp(centivolts, deciamps, decidegrees int) can.Frame {
	return frame(0x356, cat(le16(centivolts), le16(deciamps), le16(decidegrees))...)
}

func minMaxCell(maxMV, minMV int) can.Frame {
	return frame(0x361, cat(le16(maxMV), le16(minMV), le16(260), le16(240))...)
}

func systemStatus(mode byte, balancing int) can.Frame {
	return frame(0x400, cat([]byte{mode, 0}, le16(42), be16(balancing), []byte{3})...)
}

func alarms(id uint32, b ...byte) can.Frame {
	return frame(id, b...)
}

// bootstrapFrames returns the eight frames that open the gate for a 16-cell
// pack at 53.6 V with cells between 3.300 and 3.400 V.
func bootstrapFrames() []can.Frame {
	return []can.Frame{
		voltCurrTemp(5360, -150, 253),
		frame(0x35E, cat([]byte("DY001"), []byte{3}, le16(1000))...),
		minMaxCell(3400, 3300),
		frame(0x363, 0x01, 0x0A, 0x02, 0x00),
		systemStatus(1, 0x0005),
		frame(0x500, 0x12, 0x34, 0x00, 'V', '1', '.', '2', '3'),
		frame(0x600, []byte("SN123456")...),
		frame(0x650, []byte("78901234")...),
	}
}

type rig struct {
	d         *Decoder
	primary   *can.FakeBus
	secondary *can.FakeBus
	clock     *manualClock
	opened    []string
	logs      bytes.Buffer
}

// newRig builds a decoder on fake buses. withSecondary configures can1.
func newRig(t *testing.T, withSecondary bool, tweak func(*Config)) *rig {
	t.Helper()
	r := &rig{
		primary:   can.NewFakeBus(),
		secondary: can.NewFakeBus(),
		clock:     &manualClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg := DefaultConfig()
	cfg.Primary = "can0"
	if withSecondary {
		cfg.Secondary = "can1"
	}
	if tweak != nil {
		tweak(&cfg)
	}
	open := func(name string) (can.Bus, error) {
		r.opened = append(r.opened, name)
		if name == "can1" {
			return r.secondary, nil
		}
		return r.primary, nil
	}
	r.d = New(cfg, open, WithClock(r.clock.Now), WithLogger(slog.New(slog.NewTextHandler(&r.logs, nil))))
	return r
}

// logCount counts captured log lines with the given message and attribute.
func (r *rig) logCount(msg, attr string) int {
	n := 0
	for _, line := range strings.Split(r.logs.String(), "\n") {
		if strings.Contains(line, "msg=\""+msg+"\"") && strings.Contains(line, attr) {
			n++
		}
	}
	return n
}

// tryCycle runs one poll cycle, accepting a silent one.
func (r *rig) tryCycle(t *testing.T) {
	t.Helper()
	if err := r.d.PollCycle(testContext(t)); err != nil && !errors.Is(err, ErrNoData) {
		t.Fatalf("PollCycle: %v", err)
	}
}

// filler queues n primary frames that only refresh the pack values.
func (r *rig) filler(n int) {
	for i := 0; i < n; i++ {
		r.primary.Push(voltCurrTemp(5360, 0, 200))
	}
}

// cycle runs one poll cycle and fails the test on unexpected errors.
func (r *rig) cycle(t *testing.T) {
	t.Helper()
	if err := r.d.PollCycle(testContext(t)); err != nil {
		t.Fatalf("PollCycle: %v", err)
	}
}

// bootstrap delivers the bootstrap frames and runs one cycle.
func (r *rig) bootstrap(t *testing.T) {
	t.Helper()
	r.primary.Push(bootstrapFrames()...)
	r.cycle(t)
	if !r.d.Ready() {
		t.Fatal("expected decoder to be ready after bootstrap frames")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
