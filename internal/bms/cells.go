package bms

import "math"

// DetectCellCount estimates the series cell count from the pack voltage and
// the mean cell voltage, falling back to DefaultCellCount when either is not
// positive.
//
// The ratio is only a heuristic: a pack whose mean cell voltage is skewed (or
// whose topology is not a plain series string) yields a wrong count, and the
// decoder keeps whatever count it derived first for the process lifetime.
func DetectCellCount(packVoltage, meanCellVoltage float64) (count int, detected bool) {
	if packVoltage > 0 && meanCellVoltage > 0 {
		return int(math.Round(packVoltage / meanCellVoltage)), true
	}
	return DefaultCellCount, false
}

// round3 rounds to millivolt resolution.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// initCells sizes the cell collection once the gate opens. Cells are only
// appended, never removed.
func (d *Decoder) initCells() {
	count, detected := DetectCellCount(d.snap.Voltage, d.snap.CellMidVoltage)
	if detected {
		d.log.Info("detected number of cells from pack/cell voltage ratio", "cells", count)
	} else {
		d.log.Info("number of cells not detectable, using default", "cells", count)
	}
	d.snap.CellCount = count
	for len(d.snap.Cells) < count {
		d.snap.Cells = append(d.snap.Cells, Cell{})
	}
}

// reconcileCells decides where cell voltages come from this cycle.
func (d *Decoder) reconcileCells() {
	if !d.gate.Ready() {
		return
	}
	switch {
	case d.cellsFresh.Available:
		// written directly by the per-cell frames
	case d.minMaxFresh.Available:
		mid := round3(d.snap.CellMidVoltage)
		for i := range d.snap.Cells {
			d.snap.Cells[i].Voltage = mid
		}
	}
}

// setFETs applies the operation mode and balancing bitmap of a system status
// frame.
func (d *Decoder) setFETs(mode uint8, balancing uint16) {
	d.snap.ChargeFET = mode == 1
	d.snap.DischargeFET = mode == 2
	d.snap.BalanceFET = balancing != 0
	if !d.gate.Ready() {
		return
	}
	for i := 0; i < d.balanceCells(); i++ {
		d.snap.Cells[i].Balance = balancing&(1<<i) != 0
	}
}

func (d *Decoder) resetFETs() {
	d.snap.ChargeFET = false
	d.snap.DischargeFET = false
	d.snap.BalanceFET = false
	if !d.gate.Ready() {
		return
	}
	for i := 0; i < d.balanceCells(); i++ {
		d.snap.Cells[i].Balance = false
	}
}

// balanceCells is how many cells the balancing bitmap can address.
func (d *Decoder) balanceCells() int {
	n := d.snap.CellCount
	if n > len(d.snap.Cells) {
		n = len(d.snap.Cells)
	}
	if n > maxTelemetryCells {
		n = maxTelemetryCells
	}
	return n
}
