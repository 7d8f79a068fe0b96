package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/capture"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"negative device", func(c *Config) { c.DeviceIndex = -1 }, "DeviceIndex"},
		{"no port", func(c *Config) { c.Port = "" }, "Port"},
		{"unknown preset", func(c *Config) { c.Preset = "blinding" }, "Preset"},
		{"known preset", func(c *Config) { c.Preset = camera.PresetDim }, ""},
		{"bad camera", func(c *Config) { c.Camera.Focus = 500 }, "Camera"},
		{"bad mqtt", func(c *Config) { c.MQTT.Broker = "tcp://b:1883"; c.MQTT.QoS = 5 }, "MQTT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestConfig_LoadEnvConfig(t *testing.T) {
	t.Setenv("MINISCOPE_DEVICE", "3")
	t.Setenv("PORT", "9090")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_TOPIC_PREFIX", "rig1")
	t.Setenv("MINISCOPE_RECORD", "/tmp/q.csv")
	t.Setenv("MINISCOPE_STALL_WARNING", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.LoadEnvConfig()

	if cfg.DeviceIndex != 3 || cfg.Port != "9090" {
		t.Errorf("device/port = %d/%s", cfg.DeviceIndex, cfg.Port)
	}
	if !cfg.MQTTEnabled() || cfg.MQTT.Topic("state") != "rig1/state" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.RecordPath != "/tmp/q.csv" || !cfg.Debug {
		t.Errorf("record/debug = %q/%v", cfg.RecordPath, cfg.Debug)
	}
	if cfg.StallWarning != DefaultConfig().StallWarning {
		t.Errorf("StallWarning = %v", cfg.StallWarning)
	}
}

func TestNew_RequiresOpener(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := New(cfg, nil, quiet); err == nil {
		t.Error("New() with nil opener succeeded")
	}
	cfg.DeviceIndex = -2
	if _, err := New(cfg, capture.NewMock(), quiet); err == nil {
		t.Error("New() with invalid config succeeded")
	}
}

func TestApp_PresetApplied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = "0"
	cfg.Preset = camera.PresetBright

	a, err := New(cfg, capture.NewMock(), quiet)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()

	if got := a.Camera().Snapshot(); got != camera.BrightConfig() {
		t.Errorf("camera = %+v, want %+v", got, camera.BrightConfig())
	}
}

func TestApp_RecordsAndServes(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 3

	cfg := DefaultConfig()
	cfg.Port = "0"
	cfg.RecordPath = filepath.Join(t.TempDir(), "orientation.csv")

	a, err := New(cfg, mock, quiet)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Init(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Header plus one row per frame.
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(cfg.RecordPath)
		if bytes.Count(data, []byte("\n")) == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recording incomplete: %q", data)
		}
		time.Sleep(10 * time.Millisecond)
	}

	port := a.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("http://127.0.0.1:%d/api/status", port)
	var st streamStatus
	for {
		st = getStatus(t, url)
		if st.LastOutcome != "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never ended: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.SessionsStarted != 1 || st.FramesBroadcast != 3 || st.LastOutcome != "completed" {
		t.Errorf("status = %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	a.Shutdown()

	if mock.Opens() != 1 || mock.Closes() != 1 {
		t.Errorf("opens/closes = %d/%d, want 1/1", mock.Opens(), mock.Closes())
	}
}

type streamStatus struct {
	SessionsStarted uint64 `json:"sessions_started"`
	FramesBroadcast uint64 `json:"frames_broadcast"`
	LastOutcome     string `json:"last_outcome"`
}

func getStatus(t *testing.T, url string) streamStatus {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Stream streamStatus `json:"stream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.Stream
}
