package telemetry

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/hub"
	"github.com/teslashibe/go-miniscope/pkg/protocol"
	"github.com/teslashibe/go-miniscope/pkg/session"
)

// Publisher forwards a subscription to MQTT.
type Publisher struct {
	client Client
	cfg    Config
	logger *slog.Logger

	frames   atomic.Uint64
	images   atomic.Uint64
	failures atomic.Uint64
}

// NewPublisher creates a publisher.
func NewPublisher(client Client, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "telemetry"),
	}
}

// Run publishes frames from sub until the stream ends or ctx is done.
// It closes sub on return and returns the stream error, if any.
func (p *Publisher) Run(ctx context.Context, sub *hub.Subscription) error {
	defer sub.Close()

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				err := sub.Err()
				p.PublishEnd(err)
				return err
			}
			p.PublishFrame(frame)

		case <-ctx.Done():
			return nil
		}
	}
}

// PublishFrame publishes the frame metadata and, every ImageEvery frames,
// the image.
func (p *Publisher) PublishFrame(frame session.Frame) {
	n := p.frames.Add(1)

	msg, err := protocol.NewMessage(protocol.TypeFrame, frame.Metadata())
	if err != nil {
		p.logger.Error("encode frame metadata", "error", err)
		return
	}
	p.publishMessage(p.cfg.Topic("orientation"), false, msg)

	if p.cfg.ImageEvery <= 0 || (n-1)%uint64(p.cfg.ImageEvery) != 0 {
		return
	}
	data, err := frame.JPEG(p.cfg.JPEGQuality)
	if err != nil {
		p.logger.Error("encode frame image", "index", frame.Index, "error", err)
		return
	}
	b64 := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
	base64.StdEncoding.Encode(b64, data)
	if p.publish(p.cfg.Topic("image"), false, b64) {
		p.images.Add(1)
	}
}

// PublishEnd publishes the final session state.
func (p *Publisher) PublishEnd(streamErr error) {
	outcome := session.OutcomeCompleted.String()
	if streamErr != nil {
		outcome = session.OutcomeFailed.String()
	}
	msg, err := protocol.NewStateMessage(session.StateClosed.String(), outcome, streamErr)
	if err != nil {
		p.logger.Error("encode state", "error", err)
		return
	}
	p.publishMessage(p.cfg.Topic("state"), true, msg)
}

// PublishSettings publishes the camera settings. It fits
// camera.Manager.OnConfigChange.
func (p *Publisher) PublishSettings(cfg camera.Config) {
	msg, err := protocol.NewConfigMessage(protocol.ConfigData{
		LEDBrightness: cfg.LEDBrightness,
		Focus:         cfg.Focus,
		Gain:          cfg.Gain.String(),
		FrameRate:     int(cfg.FrameRate),
	})
	if err != nil {
		p.logger.Error("encode settings", "error", err)
		return
	}
	p.publishMessage(p.cfg.Topic("settings"), true, msg)
}

// Stats returns frames seen, images published and failed publishes.
func (p *Publisher) Stats() (frames, images, failures uint64) {
	return p.frames.Load(), p.images.Load(), p.failures.Load()
}

func (p *Publisher) publishMessage(topic string, retained bool, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		p.logger.Error("encode message", "topic", topic, "error", err)
		return
	}
	p.publish(topic, retained, data)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) bool {
	if err := wait(p.client.Publish(topic, p.cfg.QoS, retained, payload), p.cfg.PublishTimeout); err != nil {
		p.failures.Add(1)
		p.logger.Warn("publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}
