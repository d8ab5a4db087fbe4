package bms

// Message names a logical CAN message of the battery protocol.
type Message string

// Primary bus messages (standard identifiers, little-endian payloads).
const (
	MsgLimits          Message = "BMS_LIM_VOLT_CURR"     // charge/discharge voltage and current limits
	MsgSOCSOH          Message = "BMS_SOC_SOH"           // state of charge and health
	MsgVoltCurrTemp    Message = "BMS_VOLT_CURR_TEMP"    // pack voltage, current and temperature
	MsgBMSAlarms       Message = "BMS_ERR_WARN_ALM"      // aggregate alarm and warning bytes
	MsgBMSStatus       Message = "BMS_STAT"              // aggregate status bits
	MsgBatteryData     Message = "BMS_BAT_DATA"          // manufacturer, pack number, chemistry, capacity
	MsgMinMaxCell      Message = "BMS_MIN_MAX_CELL_DATA" // min/max cell voltage and temperature
	MsgBMSVersion      Message = "BMS_SW_HW"             // BMS software and hardware version
	MsgModuleStatus    Message = "BMS_MODULE_STAT"       // module counts by state
	MsgBatteryAlarms   Message = "BAT_ERR_WARN_ALM_STAT" // per-battery alarm and warning bytes
	MsgBatteryVoltCurr Message = "BAT_VOLT_CURR_SOC_SOH" // per-battery voltage, current, SOC, SOH
	MsgBatteryMinMax   Message = "BAT_MIN_MAX_CELL_DATA" // per-battery min/max cell data
	MsgBatteryTemps    Message = "BAT_TEMP_MAX_CURR"     // MOSFET and heater temperatures
	MsgSystemStatus    Message = "BAT_SYS_STAT"          // operation mode, cycles, balancing
	MsgBatteryVersion  Message = "BAT_SW_DATA"           // battery software and boot version
	MsgEnergy          Message = "BAT_ENERGY"            // charged and discharged energy
	MsgSerial1         Message = "BAT_SERIAL1"           // serial number, first half
	MsgSerial2         Message = "BAT_SERIAL2"           // serial number, second half
	MsgFaults1         Message = "BAT_NUMBER_OF_FAULTS1" // high/low voltage alarm counts
	MsgFaults2         Message = "BAT_NUMBER_OF_FAULTS2" // overcurrent and overtemperature counts
)

// Secondary bus messages (extended identifiers, big-endian payloads).
const (
	MsgHighLow      Message = "INTER_HIGH_LOW"       // min/max cell voltage with cell numbers
	MsgCellVoltage0 Message = "INTER_CELL_VOLTAGES0" // cells 1-4
	MsgCellVoltage1 Message = "INTER_CELL_VOLTAGES1" // cells 5-8
	MsgCellVoltage2 Message = "INTER_CELL_VOLTAGES2" // cells 9-12
	MsgCellVoltage3 Message = "INTER_CELL_VOLTAGES3" // cells 13-16
)

// BusKind identifies one of the two physical buses.
type BusKind int

const (
	Primary BusKind = iota
	Secondary
)

func (b BusKind) String() string {
	if b == Secondary {
		return "secondary"
	}
	return "primary"
}

type registration struct {
	bus BusKind
	ids []uint32
}

var registry = map[Message]registration{
	MsgLimits:          {Primary, []uint32{0x351}},
	MsgSOCSOH:          {Primary, []uint32{0x355}},
	MsgVoltCurrTemp:    {Primary, []uint32{0x356}},
	MsgBMSAlarms:       {Primary, []uint32{0x359}},
	MsgBMSStatus:       {Primary, []uint32{0x35C}},
	MsgBatteryData:     {Primary, []uint32{0x35E}},
	MsgMinMaxCell:      {Primary, []uint32{0x361}},
	MsgBMSVersion:      {Primary, []uint32{0x363}},
	MsgModuleStatus:    {Primary, []uint32{0x364}},
	MsgBatteryAlarms:   {Primary, []uint32{0x110}},
	MsgBatteryVoltCurr: {Primary, []uint32{0x150}},
	MsgBatteryMinMax:   {Primary, []uint32{0x200}},
	MsgBatteryTemps:    {Primary, []uint32{0x250}},
	MsgSystemStatus:    {Primary, []uint32{0x400}},
	MsgBatteryVersion:  {Primary, []uint32{0x500}},
	MsgEnergy:          {Primary, []uint32{0x550}},
	MsgSerial1:         {Primary, []uint32{0x600}},
	MsgSerial2:         {Primary, []uint32{0x650}},
	MsgFaults1:         {Primary, []uint32{0x700}},
	MsgFaults2:         {Primary, []uint32{0x750}},

	MsgHighLow:      {Secondary, []uint32{0x2098001}},
	MsgCellVoltage0: {Secondary, []uint32{0x4008001}},
	MsgCellVoltage1: {Secondary, []uint32{0x4018001}},
	MsgCellVoltage2: {Secondary, []uint32{0x4028001}},
	MsgCellVoltage3: {Secondary, []uint32{0x4038001}},
}

// byID is the reverse index, one map per bus since the ID spaces differ.
var byID = func() [2]map[uint32]Message {
	idx := [2]map[uint32]Message{{}, {}}
	for m, r := range registry {
		for _, id := range r.ids {
			idx[r.bus][id] = m
		}
	}
	return idx
}()

// IDs returns the arbitration IDs of a message, or nil for unknown names.
func IDs(m Message) []uint32 {
	r, ok := registry[m]
	if !ok {
		return nil
	}
	out := make([]uint32, len(r.ids))
	copy(out, r.ids)
	return out
}

// BusOf reports which bus carries a message.
func BusOf(m Message) (BusKind, bool) {
	r, ok := registry[m]
	return r.bus, ok
}

// Lookup maps an arbitration ID seen on bus to its message name.
func Lookup(bus BusKind, id uint32) (Message, bool) {
	if bus != Primary && bus != Secondary {
		return "", false
	}
	m, ok := byID[bus][id]
	return m, ok
}
