package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-miniscope/pkg/hub"
	"github.com/teslashibe/go-miniscope/pkg/protocol"
	"github.com/teslashibe/go-miniscope/pkg/session"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds client messages; viewers only send control frames
	maxMessageSize = 4 * 1024
)

// streamClient forwards one subscription to one websocket connection.
type streamClient struct {
	conn    *websocket.Conn
	sub     *hub.Subscription
	quality int
	logger  *slog.Logger
}

func newStreamClient(conn *websocket.Conn, sub *hub.Subscription, quality int, logger *slog.Logger) *streamClient {
	return &streamClient{
		conn:    conn,
		sub:     sub,
		quality: quality,
		logger:  logger.With("subscription", sub.ID()),
	}
}

// Run starts the write pump and blocks in the read pump until the
// connection closes.
func (c *streamClient) Run() {
	c.logger.Info("viewer connected")
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump()
	<-done
	c.logger.Info("viewer disconnected")
}

// readPump reads from the connection to process pongs and notice
// disconnects. Leaving it detaches the subscription.
func (c *streamClient) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump is the only writer on the connection. Each frame goes out as a
// JSON frame message followed by the binary JPEG.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sub.Close()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sub.Frames():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.writeEnd()
				return
			}
			if err := c.writeFrame(frame); err != nil {
				c.logger.Debug("frame write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) writeFrame(frame session.Frame) error {
	data, err := frame.JPEG(c.quality)
	if err != nil {
		return err
	}

	meta := frame.Metadata()
	meta.Format = "jpeg"
	msg, err := protocol.NewMessage(protocol.TypeFrame, meta)
	if err != nil {
		return err
	}
	text, err := msg.Bytes()
	if err != nil {
		return err
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, text); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// writeEnd reports why the stream ended and sends a close frame.
func (c *streamClient) writeEnd() {
	var msg *protocol.Message
	var err error
	if serr := c.sub.Err(); serr != nil {
		msg, err = protocol.NewErrorMessage(serr)
	} else {
		var outcome string
		if o, ok := c.sub.Outcome(); ok {
			outcome = o.String()
		}
		msg, err = protocol.NewStateMessage(session.StateClosed.String(), outcome, nil)
	}
	if err == nil {
		if text, err := msg.Bytes(); err == nil {
			c.conn.WriteMessage(websocket.TextMessage, text)
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
