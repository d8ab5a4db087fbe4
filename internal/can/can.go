// Package can provides CAN frame reception with hardware abstraction.
// The real implementation uses Linux SocketCAN.
// The fake implementation allows testing without hardware.
package can

import (
	"context"
	"errors"
	"fmt"
)

// Identifier masks and flags of the SocketCAN can_id word.
const (
	MaskStandard uint32 = 0x000007FF
	MaskExtended uint32 = 0x1FFFFFFF
	FlagExtended uint32 = 0x80000000
)

// ErrTimeout is returned by Receive when no frame arrived before the context
// deadline.
var ErrTimeout = errors.New("can: receive timeout")

// ErrClosed is returned by Receive after the bus has been closed.
var ErrClosed = errors.New("can: bus closed")

// Frame is a classical CAN frame with a fixed 8-byte payload.
type Frame struct {
	ID       uint32 // 11-bit (standard) or 29-bit (extended), flags stripped
	Extended bool
	Len      uint8
	Data     [8]byte
}

// String renders the frame like candump does.
func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#% X", f.ID, f.Data[:f.Len])
	}
	return fmt.Sprintf("%03X#% X", f.ID, f.Data[:f.Len])
}

// NewFrame builds a frame from an identifier and up to 8 data bytes.
// Identifiers above the 11-bit range are marked extended.
func NewFrame(id uint32, data ...byte) Frame {
	f := Frame{ID: id & MaskExtended, Extended: id > MaskStandard}
	n := copy(f.Data[:], data)
	f.Len = uint8(n)
	return f
}

// Bus receives frames from one CAN interface.
type Bus interface {
	// Receive blocks until a frame arrives, the context is done, or the bus
	// is closed. A context deadline yields ErrTimeout.
	Receive(ctx context.Context) (Frame, error)

	// Close releases the interface.
	Close() error
}

// Opener opens the named interface.
type Opener func(iface string) (Bus, error)

func timeoutErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
