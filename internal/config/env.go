package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for secrets.
const (
	EnvInfluxHost   = "INFLUX_HOST"
	EnvInfluxToken  = "INFLUX_TOKEN"
	EnvInfluxOrg    = "INFLUX_ORG"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
)

// Secrets are kept out of the config file.
type Secrets struct {
	InfluxHost   string
	InfluxToken  string
	InfluxOrg    string
	MQTTUsername string
	MQTTPassword string
}

// InfluxEnabled reports whether an InfluxDB host was given.
func (s Secrets) InfluxEnabled() bool {
	return s.InfluxHost != ""
}

// LoadEnv loads the env file at path into the process environment, if path
// is set, and returns the secrets. Variables already set in the environment
// take precedence over the file.
func LoadEnv(path string) (Secrets, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return Secrets{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return Secrets{
		InfluxHost:   os.Getenv(EnvInfluxHost),
		InfluxToken:  os.Getenv(EnvInfluxToken),
		InfluxOrg:    os.Getenv(EnvInfluxOrg),
		MQTTUsername: os.Getenv(EnvMQTTUsername),
		MQTTPassword: os.Getenv(EnvMQTTPassword),
	}, nil
}

// ReadEnvFile parses an env file without touching the process environment.
// A missing file yields an empty map.
func ReadEnvFile(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vars, nil
}
