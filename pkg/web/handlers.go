package web

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/hub"
	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

// handleStatus returns the stream status and current settings
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"stream": s.hub.Status(),
		"camera": s.camera.Snapshot(),
	})
}

// handleGetCamera returns the current settings
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	return c.JSON(s.camera.Snapshot())
}

// handleUpdateCamera applies a partial settings update, e.g.
// {"led_brightness": 40} or {"preset": "dim", "focus": -5}
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}

	if err := s.camera.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.logger.Info("camera settings updated", "config", s.camera.Snapshot())
	return c.JSON(s.camera.Snapshot())
}

// handleCapabilities returns the settings ranges
func (s *Server) handleCapabilities(c *fiber.Ctx) error {
	return c.JSON(camera.Capabilities())
}

// handleListPresets returns all presets by name
func (s *Server) handleListPresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

// handleApplyPreset replaces the settings with a preset
func (s *Server) handleApplyPreset(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := s.camera.ApplyPreset(name); err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, camera.ErrUnknownPreset) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	s.logger.Info("camera preset applied", "preset", name)
	return c.JSON(s.camera.Snapshot())
}

// handleFrameJPEG attaches to the stream, takes one frame and detaches.
// If nobody else is watching this starts and stops a whole session.
func (s *Server) handleFrameJPEG(c *fiber.Ctx) error {
	sub, err := s.hub.Subscribe(hub.WithBuffer(1))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	defer sub.Close()

	ctx, cancel := context.WithTimeout(c.UserContext(), s.frameTimeout)
	defer cancel()

	frame, err := sub.Next(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
			"error": "timed out waiting for a frame",
		})
	case errors.Is(err, hub.ErrEnded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "stream ended",
		})
	case err != nil:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	data, err := frame.JPEG(s.quality)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	c.Set("X-Frame-Index", strconv.FormatUint(frame.Index, 10))
	c.Set(fiber.HeaderContentType, "image/jpeg")
	return c.Send(data)
}

// handleFramesWS streams frames to a websocket until either side closes
func (s *Server) handleFramesWS(c *websocket.Conn) {
	sub, err := s.hub.Subscribe(hub.WithBuffer(s.streamBuffer))
	if err != nil {
		if msg, merr := protocol.NewErrorMessage(err); merr == nil {
			c.WriteJSON(msg)
		}
		c.Close()
		return
	}

	client := newStreamClient(c, sub, s.quality, s.logger)
	client.Run()
}
