package bms

// Bootstrap bits. Each is set the first time its frame is decoded.
const (
	BootVoltCurrTemp uint8 = 1 << iota // 0x356
	BootBatteryData                    // 0x35E
	BootMinMaxCell                     // 0x361 or secondary high/low
	BootBMSVersion                     // 0x363
	BootSystemStatus                   // 0x400
	BootBatteryVersion                 // 0x500
	BootSerial1                        // 0x600
	BootSerial2                        // 0x650

	bootAll uint8 = 0xFF
)

// Gate accumulates bootstrap bits and reports ready once all of them have
// been seen. Bits are never cleared and ready never reverts.
type Gate struct {
	mask  uint8
	ready bool
}

// Set records a bootstrap bit.
func (g *Gate) Set(bits uint8) {
	g.mask |= bits
}

// Mask returns the accumulated bits.
func (g *Gate) Mask() uint8 {
	return g.mask
}

// Ready reports whether the gate has opened.
func (g *Gate) Ready() bool {
	return g.ready
}

// Open flips the gate to ready when all bits are present.
// Returns true exactly once, on the call that opens it.
func (g *Gate) Open() bool {
	if g.ready || g.mask&bootAll != bootAll {
		return false
	}
	g.ready = true
	return true
}
