package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of a viewer message.
type MessageType string

const (
	TypeFrame  MessageType = "frame"  // Frame metadata, followed by a binary JPEG on websockets
	TypeState  MessageType = "state"  // Session lifecycle update
	TypeConfig MessageType = "config" // Camera settings
	TypeError  MessageType = "error"  // Terminal stream error
)

// Message is the envelope for every JSON message sent to viewers.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// FrameData describes one frame.
type FrameData struct {
	Index       uint64     `json:"index"`
	CapturedAt  int64      `json:"captured_at"` // Unix milliseconds
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Orientation [4]uint16  `json:"orientation"` // Raw w, x, y, z registers
	Quaternion  [4]float64 `json:"quaternion"`
	Format      string     `json:"format,omitempty"` // "jpeg" when an image follows
	Data        string     `json:"data,omitempty"`   // base64, MQTT only
}

// StateData reports a session lifecycle change.
type StateData struct {
	State   string `json:"state"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConfigData mirrors camera.Config on the wire.
type ConfigData struct {
	LEDBrightness int    `json:"led_brightness"`
	Focus         int    `json:"focus"`
	Gain          string `json:"gain"`
	FrameRate     int    `json:"frame_rate"`
}
