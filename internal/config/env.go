// Package config provides environment helpers for go-miniscope commands.
package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults used when the environment does not say otherwise.
const (
	DefaultDeviceIndex = 0
	DefaultPort        = "8181"
	DefaultLogLevel    = "info"
	DefaultTopicPrefix = "miniscope"
)

// DeviceIndex returns the capture device index from MINISCOPE_DEVICE.
// Falls back to DefaultDeviceIndex if unset or not a number.
func DeviceIndex() int {
	return intEnv("MINISCOPE_DEVICE", DefaultDeviceIndex)
}

// ListenPort returns the HTTP port from PORT or the default.
func ListenPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return DefaultPort
}

// MQTTBroker returns the broker URL from MQTT_BROKER. Empty disables MQTT.
func MQTTBroker() string {
	return os.Getenv("MQTT_BROKER")
}

// MQTTTopicPrefix returns MQTT_TOPIC_PREFIX or the default.
func MQTTTopicPrefix() string {
	if prefix := os.Getenv("MQTT_TOPIC_PREFIX"); prefix != "" {
		return prefix
	}
	return DefaultTopicPrefix
}

// RecordPath returns the orientation CSV path from MINISCOPE_RECORD.
func RecordPath() string {
	return os.Getenv("MINISCOPE_RECORD")
}

// LogLevel returns LOG_LEVEL or "info".
func LogLevel() string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return DefaultLogLevel
}

// StallWarning returns MINISCOPE_STALL_WARNING as a duration, or fallback.
func StallWarning(fallback time.Duration) time.Duration {
	v := os.Getenv("MINISCOPE_STALL_WARNING")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
