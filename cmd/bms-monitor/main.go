// Command bms-monitor decodes a battery BMS from one or two CAN buses and
// publishes the battery state to MQTT, InfluxDB, a GPIO alarm line and an
// HTTP status page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asmcc/my48vdc/internal/bms"
	"github.com/asmcc/my48vdc/internal/can"
	"github.com/asmcc/my48vdc/internal/config"
	"github.com/asmcc/my48vdc/internal/gpio"
	"github.com/asmcc/my48vdc/internal/influx"
	"github.com/asmcc/my48vdc/internal/logic"
	"github.com/asmcc/my48vdc/internal/mqtt"
	"github.com/asmcc/my48vdc/internal/status"
	"github.com/asmcc/my48vdc/internal/web"
)

// probeAttempts bounds the connection test.
const probeAttempts = 5

// off disables an output when given as a flag value.
const off = "off"

func main() {
	configPath := flag.String("config", "", "YAML configuration file (built-in defaults when empty)")
	envPath := flag.String("env", "", "Env file with InfluxDB and MQTT credentials")
	primary := flag.String("primary", "", "Primary CAN interface (overrides config)")
	secondary := flag.String("secondary", "", `Secondary CAN interface (overrides config, "off" disables)`)
	broker := flag.String("broker", "", `MQTT broker address (overrides config, "off" disables)`)
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	probe := flag.Bool("probe", false, "Run the connection test before polling")
	printState := flag.Bool("print-state", false, "Print one decoded battery state and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	override(&cfg.CAN.Primary, *primary)
	override(&cfg.MQTT.Broker, *broker)
	override(&cfg.HTTP.Addr, *httpAddr)
	cfg.CAN.Secondary = resolveSecondary(cfg.CAN.Primary, cfg.CAN.Secondary, *secondary, can.DiscoverSecondary)
	if err := config.Validate(&cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	secrets, err := config.LoadEnv(*envPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, secrets, newLogger(*debug), *probe, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// override replaces *dst with a non-empty flag value; "off" clears it.
func override(dst *string, flagValue string) {
	switch flagValue {
	case "":
	case off:
		*dst = ""
	default:
		*dst = flagValue
	}
}

// resolveSecondary picks the secondary interface: the flag, then the config
// file, then the first other CAN interface on the host. An empty result
// means primary-only operation.
func resolveSecondary(primary, configured, flagValue string, discover func(string) (string, error)) string {
	switch {
	case flagValue == off || configured == off:
		return ""
	case flagValue != "":
		return flagValue
	case configured != "":
		return configured
	}
	name, err := discover(primary)
	if err != nil {
		if !errors.Is(err, can.ErrNoSecondary) {
			log.Printf("secondary discovery failed: %v", err)
		}
		log.Printf("no secondary CAN interface, running on %s alone", primary)
		return ""
	}
	log.Printf("discovered secondary CAN interface %s", name)
	return name
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cfg config.Config, secrets config.Secrets, logger *slog.Logger, probe, printState bool) error {
	decoder := bms.New(cfg.DecoderConfig(), can.Open, bms.WithLogger(logger))
	defer decoder.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Print state mode
	if printState {
		if !decoder.Probe(ctx, probeAttempts) {
			return fmt.Errorf("no complete battery data after %d cycles", probeAttempts)
		}
		payload, err := mqtt.FormatStatePayload(mqtt.StateEvent{
			Timestamp: time.Now(),
			Battery:   batteryID(decoder),
			Snapshot:  decoder.Snapshot(),
		})
		if err != nil {
			return fmt.Errorf("format state: %w", err)
		}
		fmt.Println(string(payload))
		return nil
	}

	if probe {
		if decoder.Probe(ctx, probeAttempts) {
			log.Printf("connection test passed: %s", batteryID(decoder))
		} else {
			log.Printf("connection test failed after %d cycles, polling anyway", probeAttempts)
		}
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: secrets.MQTTUsername,
			Password: secrets.MQTTPassword,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher, mqttStatus = p, p
	}
	defer publisher.Close()

	// Initialize InfluxDB
	var points pointSink
	if secrets.InfluxEnabled() {
		s, err := influx.New(influx.Options{
			Host:        secrets.InfluxHost,
			Token:       secrets.InfluxToken,
			Org:         secrets.InfluxOrg,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
		})
		if err != nil {
			return fmt.Errorf("init influx: %w", err)
		}
		defer s.Close()
		points = s
	}

	// Initialize the alarm line
	var ind gpio.Indicator
	if cfg.GPIO.AlarmPin >= 0 {
		r, err := gpio.NewRealIndicator(cfg.GPIO.Chip, cfg.GPIO.AlarmPin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		ind = r
	}
	light := gpio.NewAlarmLight(ind)
	defer light.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Interval.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		Topic:       cfg.MQTT.Topic,
		HTTPPort:    cfg.HTTP.Addr,
		Primary:     cfg.CAN.Primary,
		Secondary:   cfg.CAN.Secondary,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: primary=%s secondary=%q poll=%v broker=%q heartbeat=%v",
		cfg.CAN.Primary, cfg.CAN.Secondary, cfg.Poll.Interval, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)

	ticker := time.NewTicker(cfg.Poll.Interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctx, decoder, publisher, mqttStatus, tracker, points, light,
		cfg.MQTT.AlarmDebounce, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh)
}

// poller is the part of bms.Decoder the loop drives.
type poller interface {
	Refresh(ctx context.Context) bool
	Snapshot() bms.Snapshot
	Health() (primary, secondary bms.BusHealth)
	UniqueIdentifier() string
	ConnectionName() string
}

// pointSink receives one point per successful cycle.
type pointSink interface {
	Write(battery string, snap bms.Snapshot, ts time.Time)
}

// batteryID is the serial number, or the connection name until it arrives.
func batteryID(p poller) string {
	if id := p.UniqueIdentifier(); id != "" {
		return id
	}
	return p.ConnectionName()
}

func runLoop(ctx context.Context, decoder poller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, points pointSink, light *gpio.AlarmLight, alarmDebounce, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	detector := logic.NewDetector(alarmDebounce, startTime)

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			ok := decoder.Refresh(ctx)
			primary, secondary := decoder.Health()

			if !ok {
				if tracker != nil {
					tracker.RecordFailure(primary, secondary)
				}
			} else {
				snap := decoder.Snapshot()
				id := batteryID(decoder)

				if err := publisher.PublishState(mqtt.StateEvent{Timestamp: t, Battery: id, Snapshot: snap}); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
				if points != nil {
					points.Write(id, snap, t)
				}
				if tracker != nil {
					tracker.Update(snap, id, primary, secondary, t)
				}

				for _, e := range detector.Process(logic.Input{Protection: snap.Protection, Time: t}) {
					log.Printf("alarm: %s %s -> %s", e.Condition, e.From, e.To)
					alarm := mqtt.AlarmEvent{
						Timestamp: e.Timestamp,
						Battery:   id,
						Condition: e.Condition,
						From:      e.From,
						To:        e.To,
					}
					if err := publisher.PublishAlarm(alarm); err != nil {
						log.Printf("alarm publish error: %v", err)
					}
				}

				if err := light.Update(snap.Protection.Worst() == bms.Alarm); err != nil {
					log.Printf("alarm light error: %v", err)
				}
			}

			// Check for heartbeat
			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Printf("heartbeat: uptime=%v warnings=%d alarms=%d cleared=%d",
					hbData.Uptime, hbData.Counts.Warnings, hbData.Counts.Alarms, hbData.Counts.Cleared)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					if mqttStatus != nil {
						tracker.SetMQTTConnected(mqttStatus.IsConnected())
					}
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}
	}
}

// nopPublisher stands in when MQTT is disabled.
type nopPublisher struct{}

func (nopPublisher) PublishState(mqtt.StateEvent) error   { return nil }
func (nopPublisher) PublishAlarm(mqtt.AlarmEvent) error   { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (nopPublisher) Close() error                         { return nil }

// piHelperEnv is written by pi-helper with the current network state.
var piHelperEnv = "/run/pi-helper.env"

// networkErr is the last helper file error; a broken file is logged once.
var networkErr string

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// readNetworkInfo reads the pi-helper file, falling back to the process
// environment for keys the file does not have.
func readNetworkInfo() *status.NetworkInfo {
	vars, err := config.ReadEnvFile(piHelperEnv)
	if err != nil {
		if err.Error() != networkErr {
			log.Printf("network info: %v", err)
		}
		networkErr = err.Error()
		vars = nil
	} else {
		networkErr = ""
	}
	get := func(key string) string {
		if v, ok := vars[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	s := get(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       get(envNetworkType),
		IP:         get(envNetworkIP),
		Status:     s,
		Gateway:    get(envNetworkGateway),
		WifiStatus: get(envNetworkWifiStatus),
		SSID:       get(envNetworkWifiSSID),
	}
}
