package config

import (
	"testing"
	"time"
)

func TestDeviceIndex(t *testing.T) {
	tests := []struct {
		env  string
		want int
	}{
		{"", DefaultDeviceIndex},
		{"2", 2},
		{"usb0", DefaultDeviceIndex},
	}
	for _, tt := range tests {
		t.Setenv("MINISCOPE_DEVICE", tt.env)
		if got := DeviceIndex(); got != tt.want {
			t.Errorf("DeviceIndex() with %q = %d, want %d", tt.env, got, tt.want)
		}
	}
}

func TestListenPort(t *testing.T) {
	t.Setenv("PORT", "")
	if got := ListenPort(); got != DefaultPort {
		t.Errorf("ListenPort() = %q, want %q", got, DefaultPort)
	}
	t.Setenv("PORT", "9000")
	if got := ListenPort(); got != "9000" {
		t.Errorf("ListenPort() = %q, want 9000", got)
	}
}

func TestStringDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MQTT_TOPIC_PREFIX", "")
	t.Setenv("MQTT_BROKER", "")
	if LogLevel() != "info" || MQTTTopicPrefix() != "miniscope" || MQTTBroker() != "" {
		t.Errorf("defaults = %q, %q, %q", LogLevel(), MQTTTopicPrefix(), MQTTBroker())
	}

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	if LogLevel() != "debug" || MQTTBroker() != "tcp://broker:1883" {
		t.Errorf("overrides = %q, %q", LogLevel(), MQTTBroker())
	}
}

func TestStallWarning(t *testing.T) {
	t.Setenv("MINISCOPE_STALL_WARNING", "")
	if got := StallWarning(time.Second); got != time.Second {
		t.Errorf("StallWarning() = %v, want 1s", got)
	}
	t.Setenv("MINISCOPE_STALL_WARNING", "250ms")
	if got := StallWarning(time.Second); got != 250*time.Millisecond {
		t.Errorf("StallWarning() = %v, want 250ms", got)
	}
	t.Setenv("MINISCOPE_STALL_WARNING", "soon")
	if got := StallWarning(time.Second); got != time.Second {
		t.Errorf("StallWarning() with bad value = %v, want 1s", got)
	}
}
