// Package viewer is a websocket client for the /ws/frames stream.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

// ErrStreamEnded is returned by Next after the server closes the stream
// normally.
var ErrStreamEnded = errors.New("stream ended")

// Frame is one received frame.
type Frame struct {
	Meta protocol.FrameData
	JPEG []byte
}

// StreamError carries the error the server reported before closing.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "stream failed: " + e.Message
}

// Client reads frames from a Miniscope daemon.
type Client struct {
	ws   *websocket.Conn
	wsMu sync.Mutex

	readTimeout time.Duration
}

// Dial connects to url, for example ws://localhost:8181/ws/frames.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{ws: ws, readTimeout: 30 * time.Second}
	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return c, nil
}

// Next blocks for the next frame. It returns ErrStreamEnded or a
// *StreamError when the server ends the stream.
func (c *Client) Next() (*Frame, error) {
	for {
		msg, err := c.readText()
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case protocol.TypeFrame:
			meta, err := msg.GetFrameData()
			if err != nil {
				return nil, err
			}
			data, err := c.readBinary()
			if err != nil {
				return nil, fmt.Errorf("frame %d image: %w", meta.Index, err)
			}
			return &Frame{Meta: *meta, JPEG: data}, nil

		case protocol.TypeError:
			var data map[string]string
			if err := msg.ParseData(&data); err != nil {
				return nil, err
			}
			return nil, &StreamError{Message: data["error"]}

		case protocol.TypeState:
			// The closed state precedes the close frame; keep reading.
		}
	}
}

func (c *Client) read() (int, []byte, error) {
	c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, nil, ErrStreamEnded
		}
		return 0, nil, err
	}
	return kind, data, nil
}

func (c *Client) readText() (*protocol.Message, error) {
	for {
		kind, data, err := c.read()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return protocol.ParseMessage(data)
		}
	}
}

func (c *Client) readBinary() ([]byte, error) {
	kind, data, err := c.read()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("expected binary message, got type %d", kind)
	}
	return data, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.wsMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wsMu.Unlock()
	return c.ws.Close()
}
