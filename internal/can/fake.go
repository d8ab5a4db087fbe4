package can

import (
	"context"
	"errors"
)

// FakeBus is a test double that returns scripted frames.
type FakeBus struct {
	// Script holds the scripted results. Each call to Receive consumes the
	// next entry; once exhausted every call times out.
	Script []Result

	// Calls counts Receive invocations.
	Calls int

	// Closed tracks if Close was called.
	Closed bool

	// ReceiveError, if set, is returned by every Receive.
	ReceiveError error

	index int
}

// Result is one scripted Receive outcome.
type Result struct {
	Frame Frame
	Err   error
}

// NewFakeBus creates a FakeBus delivering the given frames in order.
func NewFakeBus(frames ...Frame) *FakeBus {
	f := &FakeBus{}
	f.Push(frames...)
	return f
}

// Push appends frames to the script.
func (f *FakeBus) Push(frames ...Frame) {
	for _, fr := range frames {
		f.Script = append(f.Script, Result{Frame: fr})
	}
}

// PushTimeouts appends n receive timeouts to the script.
func (f *FakeBus) PushTimeouts(n int) {
	for i := 0; i < n; i++ {
		f.Script = append(f.Script, Result{Err: ErrTimeout})
	}
}

// Receive returns the next scripted result without blocking.
func (f *FakeBus) Receive(ctx context.Context) (Frame, error) {
	f.Calls++
	if f.Closed {
		return Frame{}, ErrClosed
	}
	if f.ReceiveError != nil {
		return Frame{}, f.ReceiveError
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return Frame{}, err
	}
	if f.index >= len(f.Script) {
		return Frame{}, ErrTimeout
	}
	r := f.Script[f.index]
	f.index++
	return r.Frame, r.Err
}

// Pending reports how many scripted results are left.
func (f *FakeBus) Pending() int {
	return len(f.Script) - f.index
}

// Close marks the bus as closed.
func (f *FakeBus) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the script and clears counters.
func (f *FakeBus) Reset() {
	f.index = 0
	f.Calls = 0
	f.Closed = false
}
