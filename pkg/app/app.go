package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/capture"
	"github.com/teslashibe/go-miniscope/pkg/hub"
	"github.com/teslashibe/go-miniscope/pkg/recorder"
	"github.com/teslashibe/go-miniscope/pkg/session"
	"github.com/teslashibe/go-miniscope/pkg/telemetry"
	"github.com/teslashibe/go-miniscope/pkg/web"
)

// App is the Miniscope daemon.
type App struct {
	cfg    Config
	opener capture.Opener
	logger *slog.Logger

	camera *camera.Manager
	hub    *hub.Hub
	web    *web.Server

	listener net.Listener

	mqtt      mqtt.Client
	publisher *telemetry.Publisher
	recorder  *recorder.Recorder

	workers   sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// New validates cfg and creates an app that opens devices through opener.
func New(cfg Config, opener capture.Opener, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, errors.New("no capture opener")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:    cfg,
		opener: opener,
		logger: logger,
		closed: make(chan struct{}),
	}, nil
}

// Init builds every component and binds the HTTP port.
func (a *App) Init() error {
	a.logger.Info("initializing", "device", a.cfg.DeviceIndex, "port", a.cfg.Port)

	a.camera = camera.NewManagerWith(a.cfg.Camera)
	if a.cfg.Preset != "" {
		if err := a.camera.ApplyPreset(a.cfg.Preset); err != nil {
			return fmt.Errorf("apply preset: %w", err)
		}
	}

	a.hub = hub.New(fmt.Sprintf("miniscope-%d", a.cfg.DeviceIndex), a.newSession, hub.WithLogger(a.logger))

	a.web = web.NewServer(a.hub, a.camera, web.WithLogger(a.logger))
	ln, err := net.Listen("tcp", ":"+a.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = ln

	if a.cfg.MQTTEnabled() {
		if err := a.initTelemetry(); err != nil {
			ln.Close()
			return err
		}
	}

	if a.cfg.RecordPath != "" {
		rec, err := recorder.Create(a.cfg.RecordPath, a.logger)
		if err != nil {
			a.closeTelemetry()
			ln.Close()
			return err
		}
		a.recorder = rec
	}

	a.logger.Info("initialized", "camera", a.camera.Snapshot())
	return nil
}

func (a *App) initTelemetry() error {
	client, err := telemetry.Connect(a.cfg.MQTT, a.logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.mqtt = client
	if err := telemetry.SubscribeConfig(client, a.cfg.MQTT, a.camera, a.logger); err != nil {
		client.Disconnect(250)
		a.mqtt = nil
		return fmt.Errorf("telemetry: %w", err)
	}

	a.publisher = telemetry.NewPublisher(client, a.cfg.MQTT, a.logger)
	a.camera.OnConfigChange = a.publisher.PublishSettings
	a.publisher.PublishSettings(a.camera.Snapshot())
	return nil
}

func (a *App) newSession() hub.Runner {
	return session.New(a.opener, a.camera,
		session.WithDeviceIndex(a.cfg.DeviceIndex),
		session.WithLogger(a.logger),
		session.WithStallWarning(a.cfg.StallWarning),
	)
}

// Addr returns the bound HTTP address, or nil before Init.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run serves HTTP and runs the telemetry and recording consumers until ctx
// is done or the web server fails.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.web.Serve(a.listener)
	}()

	if a.publisher != nil {
		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			a.publishLoop(ctx)
		}()
	}

	if a.recorder != nil {
		sub, err := a.hub.Subscribe(hub.WithBuffer(32))
		if err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		a.workers.Add(1)
		go func() {
			defer a.workers.Done()
			if err := a.recorder.Run(ctx, sub); err != nil {
				a.logger.Error("recording ended with error", "error", err)
			}
		}()
	}

	a.logger.Info("miniscope running", "addr", a.Addr().String())

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}
}

// publishLoop keeps the publisher attached to the stream, resubscribing
// after the stream ends.
func (a *App) publishLoop(ctx context.Context) {
	for {
		sub, err := a.hub.Subscribe(hub.WithBuffer(8))
		if err != nil {
			return
		}
		if err := a.publisher.Run(ctx, sub); err != nil {
			a.logger.Warn("telemetry stream ended", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case <-time.After(a.cfg.ResubscribeDelay):
		}
	}
}

// Shutdown stops the web server, ends the capture stream and waits for the
// consumers to finish.
func (a *App) Shutdown() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down")
		close(a.closed)

		if a.web != nil {
			if err := a.web.Shutdown(); err != nil {
				a.logger.Warn("web shutdown", "error", err)
			}
		}
		if a.listener != nil {
			a.listener.Close()
		}
		if a.hub != nil {
			a.hub.Close()
		}
		a.workers.Wait()

		if a.recorder != nil {
			a.recorder.Close()
		}
		a.closeTelemetry()

		if a.hub != nil {
			st := a.hub.Status()
			a.logger.Info("shutdown complete", "sessions", st.SessionsStarted, "frames", st.FramesBroadcast)
		}
	})
}

func (a *App) closeTelemetry() {
	if a.mqtt == nil {
		return
	}
	if a.publisher != nil {
		frames, images, failures := a.publisher.Stats()
		a.logger.Info("telemetry stats", "frames", frames, "images", images, "failures", failures)
	}
	a.mqtt.Disconnect(250)
	a.mqtt = nil
}

// Camera returns the live settings manager.
func (a *App) Camera() *camera.Manager {
	return a.camera
}

// Hub returns the shared stream.
func (a *App) Hub() *hub.Hub {
	return a.hub
}
