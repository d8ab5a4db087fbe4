package config

import (
	"errors"
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only and does not mutate cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	// ------------------------------------------------------------
	// BUSES
	// ------------------------------------------------------------

	if cfg.CAN.Primary == "" {
		return errors.New("can.primary is empty")
	}
	if cfg.CAN.Secondary != "" && cfg.CAN.Secondary == cfg.CAN.Primary {
		return fmt.Errorf("can.secondary %q is the primary interface", cfg.CAN.Secondary)
	}
	if cfg.CAN.Bitrate < 0 {
		return fmt.Errorf("can.bitrate must not be negative, got %d", cfg.CAN.Bitrate)
	}

	// ------------------------------------------------------------
	// DECODER
	// ------------------------------------------------------------

	d := cfg.Decoder
	if d.DefaultCellVoltage <= 0 {
		return fmt.Errorf("decoder.default_cell_voltage must be positive, got %v", d.DefaultCellVoltage)
	}
	if d.MaxFrames < 1 {
		return fmt.Errorf("decoder.max_frames must be at least 1, got %d", d.MaxFrames)
	}
	if d.ReceiveTimeout <= 0 {
		return fmt.Errorf("decoder.receive_timeout must be positive, got %v", d.ReceiveTimeout)
	}
	if d.SecondarySkip < 1 {
		return fmt.Errorf("decoder.secondary_skip must be at least 1, got %d", d.SecondarySkip)
	}
	if d.SecondaryCeiling < 1 {
		return fmt.Errorf("decoder.secondary_ceiling must be at least 1, got %d", d.SecondaryCeiling)
	}
	if d.StatusTimeout <= 0 {
		return fmt.Errorf("decoder.status_timeout must be positive, got %v", d.StatusTimeout)
	}
	if d.FreshnessWindow <= 0 {
		return fmt.Errorf("decoder.freshness_window must be positive, got %v", d.FreshnessWindow)
	}

	// ------------------------------------------------------------
	// OUTPUTS
	// ------------------------------------------------------------

	if cfg.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %v", cfg.Poll.Interval)
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		return errors.New("mqtt.topic is empty")
	}
	if cfg.MQTT.Heartbeat < 0 {
		return fmt.Errorf("mqtt.heartbeat must not be negative, got %v", cfg.MQTT.Heartbeat)
	}
	if cfg.MQTT.AlarmDebounce < 0 {
		return fmt.Errorf("mqtt.alarm_debounce must not be negative, got %v", cfg.MQTT.AlarmDebounce)
	}
	if cfg.Influx.Bucket == "" {
		return errors.New("influx.bucket is empty")
	}
	if cfg.Influx.Measurement == "" {
		return errors.New("influx.measurement is empty")
	}
	if cfg.GPIO.AlarmPin < -1 {
		return fmt.Errorf("gpio.alarm_pin must be -1 (disabled) or a line offset, got %d", cfg.GPIO.AlarmPin)
	}
	if cfg.GPIO.AlarmPin >= 0 && cfg.GPIO.Chip == "" {
		return errors.New("gpio.chip is empty")
	}
	return nil
}
