// Package app wires the Miniscope daemon together: settings, the shared
// capture stream, the web API, MQTT telemetry and orientation recording.
package app

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-miniscope/internal/config"
	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/telemetry"
)

// Config holds all configuration for the daemon.
// Flag parsing is done in cmd/miniscope/main.go; this struct is data only.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	// DeviceIndex selects the capture device.
	DeviceIndex int

	// Camera is the initial settings. Preset, if set, replaces it.
	Camera camera.Config
	Preset string

	// Port is the HTTP listen port.
	Port string

	// MQTT telemetry; disabled when MQTT.Broker is empty.
	MQTT telemetry.Config

	// RecordPath enables orientation recording to CSV.
	RecordPath string

	// StallWarning logs frame pulls slower than this. Zero disables it.
	StallWarning time.Duration

	// ResubscribeDelay is the pause before telemetry reattaches after a
	// stream ends.
	ResubscribeDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	mqtt := telemetry.DefaultConfig()
	mqtt.Broker = ""
	return Config{
		DeviceIndex:      config.DefaultDeviceIndex,
		Camera:           camera.DefaultConfig(),
		Port:             config.DefaultPort,
		MQTT:             mqtt,
		StallWarning:     2 * time.Second,
		ResubscribeDelay: time.Second,
	}
}

// LoadEnvConfig loads configuration values from environment variables.
// Call this before flag parsing so flags take precedence.
func (c *Config) LoadEnvConfig() {
	c.DeviceIndex = config.DeviceIndex()
	c.Port = config.ListenPort()
	if broker := config.MQTTBroker(); broker != "" {
		c.MQTT.Broker = broker
	}
	c.MQTT.TopicPrefix = config.MQTTTopicPrefix()
	if path := config.RecordPath(); path != "" {
		c.RecordPath = path
	}
	c.StallWarning = config.StallWarning(c.StallWarning)
	c.Debug = c.Debug || config.LogLevel() == "debug"
}

// MQTTEnabled reports whether telemetry is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DeviceIndex < 0 {
		return &ConfigError{Field: "DeviceIndex", Message: fmt.Sprintf("device index must not be negative, got %d", c.DeviceIndex)}
	}
	if c.Port == "" {
		return &ConfigError{Field: "Port", Message: "port is required"}
	}
	if c.Preset != "" && camera.GetPreset(c.Preset) == nil {
		return &ConfigError{Field: "Preset", Message: fmt.Sprintf("unknown preset %q (have %v)", c.Preset, camera.PresetNames())}
	}
	if errs := c.Camera.Validate(); len(errs) > 0 {
		return &ConfigError{Field: "Camera", Message: fmt.Sprintf("invalid camera settings: %v", errs)}
	}
	if c.MQTTEnabled() {
		if err := c.MQTT.Validate(); err != nil {
			return &ConfigError{Field: "MQTT", Message: err.Error()}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
