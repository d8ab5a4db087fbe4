package bms

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/asmcc/my48vdc/internal/can"
)

var (
	le = binary.LittleEndian
	be = binary.BigEndian
)

func u16(o binary.ByteOrder, b []byte) float64 { return float64(o.Uint16(b)) }
func s16(o binary.ByteOrder, b []byte) float64 { return float64(int16(o.Uint16(b))) }
func u32(o binary.ByteOrder, b []byte) float64 { return float64(o.Uint32(b)) }

// chars maps each byte to the character with the same code point. The result
// is not validated as text.
func chars(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// hexVersion renders bytes as zero-padded upper-case hex pairs.
func hexVersion(b ...byte) string {
	return fmt.Sprintf("%X", b)
}

var chemistries = map[uint8]string{
	1: "GOTION 96Ah",
	2: "CATL 100Ah",
	3: "EVE 100Ah",
	4: "PH 100Ah",
	5: "EVE 120Ah",
	6: "PH 100Ah(214R)",
	7: "ZENERGY 104Ah",
}

// Chemistry returns the cell manufacturer and type label for a battery type
// code.
func Chemistry(code uint8) string {
	if s, ok := chemistries[code]; ok {
		return s
	}
	return fmt.Sprintf("TYP %d", code)
}

// Bits of the per-cycle diagnostic masks.
const (
	diagLimits uint16 = 1 << iota
	diagSOCSOH
	diagVoltCurrTemp
	diagBatteryData
	diagMinMaxCell
	diagCellTemps
	diagBMSVersion
	diagModuleStatus
	diagBMSAlarms
)

const (
	diagBatteryTemps uint16 = 1 << iota
	diagSystemStatus
	diagBatteryVersion
	diagSerial1
	diagSerial2
	diagBatteryAlarms
	diagEnergy
	diagFaults1
)

const (
	diagHighLow uint16 = 1 << iota
	diagCells0
	diagCells1
	diagCells2
	diagCells3
)

// decodePrimary applies one primary-bus frame. Unknown IDs are ignored.
func (d *Decoder) decodePrimary(f can.Frame, now time.Time) {
	msg, ok := Lookup(Primary, f.ID)
	if !ok {
		return
	}
	b := f.Data[:]
	s := &d.snap

	switch msg {
	case MsgLimits:
		s.Limits.MaxVoltage = u16(le, b[0:2]) / 10
		s.Limits.MaxChargeCurrent = s16(le, b[2:4]) / 10
		s.Limits.MaxDischargeCurrent = s16(le, b[4:6]) / 10
		s.Limits.MinVoltage = u16(le, b[6:8]) / 10
		d.diag.Aggregate |= diagLimits

	case MsgSOCSOH:
		s.SOC = u16(le, b[0:2])
		s.SOH = u16(le, b[2:4])
		d.diag.Aggregate |= diagSOCSOH

	case MsgVoltCurrTemp:
		s.Voltage = s16(le, b[0:2]) / 100
		// the BMS reports discharge as positive; a zero reading stays +0
		s.Current = s16(le, b[2:4]) / 10
		if !d.cfg.InvertCurrent && s.Current != 0 {
			s.Current = -s.Current
		}
		d.setTemperature(TempPack, s16(le, b[4:6])/10)
		d.gate.Set(BootVoltCurrTemp)
		d.diag.Aggregate |= diagVoltCurrTemp

	case MsgBatteryData:
		manufacturer := chars(b[0:2])
		pack := chars(b[2:5])
		s.Type = manufacturer + pack + " " + Chemistry(b[5])
		s.Capacity = u16(le, b[6:8]) / 10
		d.gate.Set(BootBatteryData)
		d.diag.Aggregate |= diagBatteryData

	case MsgMinMaxCell:
		if !d.highLowFresh.Available {
			s.CellMaxVoltage = u16(le, b[0:2]) / 1000
			s.CellMinVoltage = u16(le, b[2:4]) / 1000
			s.CellMidVoltage = (s.CellMinVoltage + s.CellMaxVoltage) / 2
			d.minMaxFresh.Touch(now)
			d.gate.Set(BootMinMaxCell)
			d.diag.Aggregate |= diagMinMaxCell
		}
		d.setTemperature(TempCellMax, s16(le, b[4:6])/10)
		d.setTemperature(TempCellMin, s16(le, b[6:8])/10)
		d.diag.Aggregate |= diagCellTemps

	case MsgBMSVersion:
		s.BMSSoftwareVersion = hexVersion(b[0], b[1])
		s.HardwareVersion = hexVersion(b[2], b[3])
		d.gate.Set(BootBMSVersion)
		d.diag.Aggregate |= diagBMSVersion

	case MsgModuleStatus:
		s.Modules = Modules{
			InOperation:         int(b[0]),
			ChargeProhibited:    int(b[1]),
			DischargeProhibited: int(b[2]),
			Disconnected:        int(b[3]),
			Parallel:            int(b[4]),
		}
		d.diag.Aggregate |= diagModuleStatus

	case MsgBMSAlarms:
		copy(d.aggregateAlarms[:], b)
		d.log.Debug("aggregate alarms", "data", fmt.Sprintf("%x", b))
		d.applyAlarms(now)
		d.diag.Aggregate |= diagBMSAlarms

	case MsgBatteryAlarms:
		copy(d.batteryAlarms[:], b)
		d.log.Debug("battery alarms", "data", fmt.Sprintf("%x", b))
		d.applyAlarms(now)
		d.diag.Battery |= diagBatteryAlarms

	case MsgBatteryTemps:
		d.setTemperature(TempMOSFET, s16(le, b[0:2])/10)
		d.setTemperature(TempHeater, s16(le, b[2:4])/10)
		d.diag.Battery |= diagBatteryTemps

	case MsgSystemStatus:
		s.OperationMode = b[0]
		s.FailureLevel = b[1]
		s.History.ChargeCycles = int(le.Uint16(b[2:4]))
		// the balancing bitmap is the one big-endian field on this bus
		balancing := be.Uint16(b[4:6])
		s.Substate = b[6]
		d.fetStatus.Touch(now)
		d.setFETs(s.OperationMode, balancing)
		d.gate.Set(BootSystemStatus)
		d.diag.Battery |= diagSystemStatus

	case MsgBatteryVersion:
		s.BatterySoftwareVersion = hexVersion(b[0], b[1])
		s.BootVersion = chars(b[3:8])
		d.gate.Set(BootBatteryVersion)
		d.diag.Battery |= diagBatteryVersion

	case MsgSerial1:
		s.SerialPart1 = chars(b)
		d.gate.Set(BootSerial1)
		d.diag.Battery |= diagSerial1

	case MsgSerial2:
		s.SerialPart2 = chars(b)
		d.gate.Set(BootSerial2)
		d.diag.Battery |= diagSerial2

	case MsgEnergy:
		s.History.ChargedEnergy = u32(le, b[0:4]) / 1000
		s.History.DischargedEnergy = u32(le, b[4:8]) / 1000
		d.diag.Battery |= diagEnergy

	case MsgFaults1:
		s.History.HighVoltageAlarms = int(le.Uint16(b[0:2]))
		s.History.LowVoltageAlarms = int(le.Uint16(b[2:4]))
		d.diag.Battery |= diagFaults1
	}
}

// decodeSecondary applies one secondary-bus frame. Unknown IDs are ignored.
func (d *Decoder) decodeSecondary(f can.Frame, now time.Time) {
	msg, ok := Lookup(Secondary, f.ID)
	if !ok {
		return
	}
	b := f.Data[:]
	s := &d.snap

	switch msg {
	case MsgHighLow:
		s.CellMaxVoltage = u16(be, b[0:2]) / 1000
		s.CellMaxNumber = int(b[2])
		s.CellMinVoltage = u16(be, b[3:5]) / 1000
		s.CellMinNumber = int(b[5])
		s.CellMidVoltage = (s.CellMinVoltage + s.CellMaxVoltage) / 2
		if !d.highLowFresh.Available && d.gate.Ready() {
			d.log.Info("receiving highest and lowest cell voltages from secondary bus")
		}
		d.highLowFresh.Touch(now)
		d.minMaxFresh.Touch(now)
		d.gate.Set(BootMinMaxCell)
		d.diag.Secondary |= diagHighLow

	case MsgCellVoltage0:
		d.setCellGroup(0, b, now)
		d.diag.Secondary |= diagCells0
	case MsgCellVoltage1:
		d.setCellGroup(1, b, now)
		d.diag.Secondary |= diagCells1
	case MsgCellVoltage2:
		d.setCellGroup(2, b, now)
		d.diag.Secondary |= diagCells2
	case MsgCellVoltage3:
		d.setCellGroup(3, b, now)
		d.diag.Secondary |= diagCells3
	}
}

// setCellGroup writes four cell voltages starting at cell 4*group. Frames that
// arrive before the gate opens are dropped; cells beyond the collection are
// skipped.
func (d *Decoder) setCellGroup(group int, b []byte, now time.Time) {
	if !d.gate.Ready() {
		return
	}
	written := 0
	for i := 0; i < 4; i++ {
		idx := group*4 + i
		if idx >= len(d.snap.Cells) {
			break
		}
		d.snap.Cells[idx].Voltage = u16(be, b[i*2:i*2+2]) / 1000
		written++
	}
	if written == 0 {
		return
	}
	if !d.cellsFresh.Available {
		d.log.Info("receiving cell voltages from secondary bus instead of simulated values")
	}
	d.cellsFresh.Touch(now)
}

func (d *Decoder) setTemperature(slot int, celsius float64) {
	d.snap.Temperatures[slot] = Temperature{Celsius: celsius, Valid: true}
}

// applyAlarms recomputes the protection state from both alarm groups and
// restarts the alarm timeout.
func (d *Decoder) applyAlarms(now time.Time) {
	d.snap.Protection = Translate(d.aggregateAlarms, d.batteryAlarms)
	d.alarmStatus.Touch(now)
}
