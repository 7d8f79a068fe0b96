// Package telemetry publishes the Miniscope stream to an MQTT broker and
// accepts settings changes from it.
//
// Topics, under a configurable prefix:
//
//	<prefix>/orientation  JSON frame metadata for every frame
//	<prefix>/image        base64 JPEG every ImageEvery frames
//	<prefix>/state        session end, retained
//	<prefix>/settings     current camera settings, retained
//	<prefix>/config       inbound JSON settings updates
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config holds MQTT telemetry configuration.
type Config struct {
	// Broker URL, e.g. tcp://localhost:1883
	Broker   string
	ClientID string

	// TopicPrefix is prepended to every topic.
	TopicPrefix string

	QoS byte

	// ImageEvery publishes one image per that many frames. 0 disables images.
	ImageEvery  int
	JPEGQuality int

	KeepAlive      time.Duration
	PingTimeout    time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "miniscope",
		TopicPrefix:    "miniscope",
		QoS:            0,
		ImageEvery:     30,
		JPEGQuality:    70,
		KeepAlive:      2 * time.Second,
		PingTimeout:    1 * time.Second,
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 1 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.ImageEvery < 0 {
		return fmt.Errorf("image interval must not be negative")
	}
	return nil
}

// Topic returns prefix/name.
func (c Config) Topic(name string) string {
	prefix := strings.TrimSuffix(c.TopicPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
