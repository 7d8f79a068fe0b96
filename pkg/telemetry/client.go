package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-miniscope/pkg/camera"
)

// Client is the part of mqtt.Client telemetry needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Connect opens a connection to the broker. The client reconnects on its
// own after a connection loss.
func Connect(cfg Config, logger *slog.Logger) (mqtt.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry", "broker", cfg.Broker)

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetPingTimeout(cfg.PingTimeout)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	c := mqtt.NewClient(opts)
	if err := wait(c.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// wait waits for a token and returns its error.
func wait(token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		token.Wait()
		return token.Error()
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return token.Error()
}

// ConfigHandler applies JSON settings updates, as accepted by
// camera.Manager.UpdateConfig, received on the config topic.
func ConfigHandler(cam *camera.Manager, logger *slog.Logger) mqtt.MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ mqtt.Client, msg mqtt.Message) {
		var params map[string]interface{}
		if err := json.Unmarshal(msg.Payload(), &params); err != nil {
			logger.Warn("ignoring malformed config message", "topic", msg.Topic(), "error", err)
			return
		}
		if err := cam.UpdateConfig(params); err != nil {
			logger.Warn("rejected config message", "topic", msg.Topic(), "error", err)
			return
		}
		logger.Info("camera settings updated over mqtt", "config", cam.Snapshot())
	}
}

// SubscribeConfig routes the config topic to ConfigHandler.
func SubscribeConfig(client Client, cfg Config, cam *camera.Manager, logger *slog.Logger) error {
	topic := cfg.Topic("config")
	if err := wait(client.Subscribe(topic, cfg.QoS, ConfigHandler(cam, logger)), cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}
