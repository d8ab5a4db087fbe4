// Package config loads the bms-monitor configuration file and secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/asmcc/my48vdc/internal/bms"
)

type Config struct {
	CAN     CANConfig     `yaml:"can"`
	Decoder DecoderConfig `yaml:"decoder"`
	Poll    PollConfig    `yaml:"poll"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Influx  InfluxConfig  `yaml:"influx"`
	GPIO    GPIOConfig    `yaml:"gpio"`
}

// ---- BUSES ----

type CANConfig struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"` // empty = discover
	Bitrate   int    `yaml:"bitrate"`   // kbit/s, informational
}

// ---- DECODER ----

type DecoderConfig struct {
	InvertCurrent      bool          `yaml:"invert_current"`
	DefaultCellVoltage float64       `yaml:"default_cell_voltage"`
	MaxFrames          int           `yaml:"max_frames"`
	ReceiveTimeout     time.Duration `yaml:"receive_timeout"`
	SecondarySkip      int           `yaml:"secondary_skip"`
	SecondaryCeiling   int           `yaml:"secondary_ceiling"`
	StatusTimeout      time.Duration `yaml:"status_timeout"`
	FreshnessWindow    time.Duration `yaml:"freshness_window"`
}

// ---- OUTPUTS ----

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type MQTTConfig struct {
	Broker        string        `yaml:"broker"` // empty disables publishing
	Topic         string        `yaml:"topic"`
	ClientID      string        `yaml:"client_id"`
	Heartbeat     time.Duration `yaml:"heartbeat"`      // 0 disables
	AlarmDebounce time.Duration `yaml:"alarm_debounce"` // severity must hold this long
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

type InfluxConfig struct {
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

type GPIOConfig struct {
	Chip     string `yaml:"chip"`
	AlarmPin int    `yaml:"alarm_pin"` // -1 disables the indicator
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	d := bms.DefaultConfig()
	return Config{
		CAN: CANConfig{
			Primary: d.Primary,
			Bitrate: d.Bitrate,
		},
		Decoder: DecoderConfig{
			DefaultCellVoltage: d.DefaultCellVoltage,
			MaxFrames:          d.MaxFrames,
			ReceiveTimeout:     d.ReceiveTimeout,
			SecondarySkip:      d.SecondarySkip,
			SecondaryCeiling:   d.SecondaryCeiling,
			StatusTimeout:      d.StatusTimeout,
			FreshnessWindow:    d.FreshnessWindow,
		},
		Poll: PollConfig{Interval: time.Second},
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			Topic:         "bms",
			ClientID:      "bms-monitor",
			Heartbeat:     15 * time.Minute,
			AlarmDebounce: 5 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Influx: InfluxConfig{
			Bucket:      "battery",
			Measurement: "bms",
		},
		GPIO: GPIOConfig{
			Chip:     "gpiochip0",
			AlarmPin: -1,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, Validate(&cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// DecoderConfig converts the file settings into decoder settings.
func (c Config) DecoderConfig() bms.Config {
	return bms.Config{
		Primary:            c.CAN.Primary,
		Secondary:          c.CAN.Secondary,
		Bitrate:            c.CAN.Bitrate,
		InvertCurrent:      c.Decoder.InvertCurrent,
		DefaultCellVoltage: c.Decoder.DefaultCellVoltage,
		MaxFrames:          c.Decoder.MaxFrames,
		ReceiveTimeout:     c.Decoder.ReceiveTimeout,
		SecondarySkip:      c.Decoder.SecondarySkip,
		SecondaryCeiling:   c.Decoder.SecondaryCeiling,
		StatusTimeout:      c.Decoder.StatusTimeout,
		FreshnessWindow:    c.Decoder.FreshnessWindow,
	}
}
