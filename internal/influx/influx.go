// Package influx writes decoded battery snapshots to InfluxDB as one point
// per poll cycle.
package influx

import (
	"context"
	"fmt"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/asmcc/my48vdc/internal/bms"
)

// pointWriter is the part of api.WriteAPI the sink uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink writes battery points through the non-blocking write API.
type Sink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

// Options configures a Sink.
type Options struct {
	Host        string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// New connects to InfluxDB. An unreachable server is logged, not fatal:
// the write API retries in the background.
func New(o Options) (*Sink, error) {
	if o.Host == "" {
		return nil, fmt.Errorf("influx host is empty")
	}
	client := influxdb2.NewClient(o.Host, o.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ok, err := client.Ping(ctx); err != nil || !ok {
		log.Printf("influx: %s not reachable (%v), writes will be retried", o.Host, err)
	}

	w := client.WriteAPI(o.Org, o.Bucket)
	go func() {
		for err := range w.Errors() {
			log.Printf("influx: write failed: %v", err)
		}
	}()

	return &Sink{client: client, writer: w, measurement: o.Measurement}, nil
}

// Write queues one point for the snapshot.
func (s *Sink) Write(battery string, snap bms.Snapshot, ts time.Time) {
	s.writer.WritePoint(Point(s.measurement, battery, snap, ts))
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}

var temperatureFields = [bms.NumTemperatures]string{
	bms.TempMOSFET:  "temp_mosfet",
	bms.TempPack:    "temp_pack",
	bms.TempCellMax: "temp_cell_max",
	bms.TempCellMin: "temp_cell_min",
	bms.TempHeater:  "temp_heater",
}

// Point builds the point for one snapshot. Temperatures that were never
// reported and cell voltages before the decoder is ready are left out.
func Point(measurement, battery string, snap bms.Snapshot, ts time.Time) *write.Point {
	tags := map[string]string{"battery": battery}
	if snap.Type != "" {
		tags["type"] = snap.Type
	}

	fields := map[string]any{
		"voltage":        snap.Voltage,
		"current":        snap.Current,
		"power":          snap.Voltage * snap.Current,
		"soc":            snap.SOC,
		"soh":            snap.SOH,
		"capacity":       snap.Capacity,
		"cell_min":       snap.CellMinVoltage,
		"cell_max":       snap.CellMaxVoltage,
		"cell_mid":       snap.CellMidVoltage,
		"charge_fet":     snap.ChargeFET,
		"discharge_fet":  snap.DischargeFET,
		"balance_fet":    snap.BalanceFET,
		"charge_cycles":  snap.History.ChargeCycles,
		"charged_kwh":    snap.History.ChargedEnergy,
		"discharged_kwh": snap.History.DischargedEnergy,
		"alarm":          int(snap.Protection.Worst()),
	}
	for slot, t := range snap.Temperatures {
		if t.Valid {
			fields[temperatureFields[slot]] = t.Celsius
		}
	}
	for _, c := range bms.Conditions() {
		fields["protection_"+c.String()] = int(snap.Protection.Get(c))
	}
	if snap.Ready {
		for i, c := range snap.Cells {
			fields[fmt.Sprintf("cell_%02d", i+1)] = c.Voltage
		}
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}
