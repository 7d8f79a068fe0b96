// Miniscope - capture daemon for a UCLA Miniscope DAQ
// Streams frames and head orientation over HTTP, WebSocket and MQTT
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	mlog "github.com/teslashibe/go-miniscope/internal/log"
	"github.com/teslashibe/go-miniscope/pkg/app"
	"github.com/teslashibe/go-miniscope/pkg/capture"
	"github.com/teslashibe/go-miniscope/pkg/capture/opencv"
)

func main() {
	cfg, mock := parseFlags()

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	mlog.Init(level)
	logger := mlog.L()

	var opener capture.Opener = opencv.NewOpener(gocv.VideoCaptureAny, logger)
	if mock {
		m := capture.NewMock()
		m.FrameInterval = 33 * time.Millisecond
		m.Width, m.Height = 608, 608
		m.Orientation = [4]uint16{16384, 0, 0, 0}
		m.DisableRecording = true
		opener = m
		logger.Warn("using synthetic capture device")
	}

	a, err := app.New(cfg, opener, logger)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	if err := a.Init(); err != nil {
		log.Fatalf("❌ Initialization failed: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("❌ Runtime error: %v", err)
	}
}

// parseFlags parses command line flags on top of the environment.
func parseFlags() (app.Config, bool) {
	cfg := app.DefaultConfig()
	cfg.LoadEnvConfig()

	debug := flag.Bool("debug", cfg.Debug, "Enable verbose debug logging")
	device := flag.Int("device", cfg.DeviceIndex, "Capture device index (overrides MINISCOPE_DEVICE)")
	port := flag.String("port", cfg.Port, "HTTP port (overrides PORT)")
	broker := flag.String("mqtt", cfg.MQTT.Broker, "MQTT broker URL, empty to disable (overrides MQTT_BROKER)")
	prefix := flag.String("mqtt-prefix", cfg.MQTT.TopicPrefix, "MQTT topic prefix")
	record := flag.String("record", cfg.RecordPath, "Write orientation CSV to this path")
	preset := flag.String("preset", "", "Initial camera preset: default, dim, bright, fast, high-gain")
	stall := flag.Duration("stall", cfg.StallWarning, "Warn when a frame pull takes longer than this, 0 to disable")
	mock := flag.Bool("mock", false, "Use a synthetic device instead of a camera")
	flag.Parse()

	cfg.Debug = *debug
	cfg.DeviceIndex = *device
	cfg.Port = *port
	cfg.MQTT.Broker = *broker
	cfg.MQTT.TopicPrefix = *prefix
	cfg.RecordPath = *record
	cfg.Preset = *preset
	cfg.StallWarning = *stall
	return cfg, *mock
}
