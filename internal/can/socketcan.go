//go:build linux

package can

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	brcan "github.com/brutella/can"
)

// rxQueueSize bounds frames held between the reader goroutine and Receive.
const rxQueueSize = 256

// SocketBus reads frames from a Linux SocketCAN interface.
type SocketBus struct {
	name    string
	bus     *brcan.Bus
	frames  chan Frame
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// Open connects to the named SocketCAN interface (e.g. "can0") and starts
// reading frames in the background.
func Open(iface string) (Bus, error) {
	if iface == "" {
		return nil, fmt.Errorf("open can interface: empty name")
	}
	b, err := brcan.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("open can interface %s: %w", iface, err)
	}

	s := &SocketBus{
		name:   iface,
		bus:    b,
		frames: make(chan Frame, rxQueueSize),
		done:   make(chan struct{}),
	}
	b.Subscribe(s)

	go func() {
		if err := b.ConnectAndPublish(); err != nil {
			select {
			case <-s.done:
			default:
				log.Printf("can: %s reader stopped: %v", iface, err)
			}
		}
		s.shutdown()
	}()

	return s, nil
}

// Handle implements brutella/can's Handler. Frames are dropped when the
// queue is full.
func (s *SocketBus) Handle(f brcan.Frame) {
	frame := Frame{
		Extended: f.ID&FlagExtended != 0,
		Len:      f.Length,
		Data:     f.Data,
	}
	if frame.Extended {
		frame.ID = f.ID & MaskExtended
	} else {
		frame.ID = f.ID & MaskStandard
	}
	if frame.Len > 8 {
		frame.Len = 8
	}

	select {
	case s.frames <- frame:
	default:
		if s.dropped.Add(1) == 1 {
			log.Printf("can: %s receive queue full, dropping frames", s.name)
		}
	}
}

// Receive returns the next queued frame.
func (s *SocketBus) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, timeoutErr(ctx)
	}
}

// Dropped reports how many frames were discarded because the queue was full.
func (s *SocketBus) Dropped() uint64 {
	return s.dropped.Load()
}

// Close disconnects from the interface.
func (s *SocketBus) Close() error {
	s.shutdown()
	if err := s.bus.Disconnect(); err != nil {
		return fmt.Errorf("close can interface %s: %w", s.name, err)
	}
	return nil
}

func (s *SocketBus) shutdown() {
	s.once.Do(func() { close(s.done) })
}
