package protocol

import (
	"encoding/base64"
	"fmt"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates a frame metadata message. When jpegData is non-nil
// the image is embedded as base64.
func NewFrameMessage(meta FrameData, jpegData []byte) (*Message, error) {
	if jpegData != nil {
		meta.Format = "jpeg"
		meta.Data = base64.StdEncoding.EncodeToString(jpegData)
	}
	return NewMessage(TypeFrame, meta)
}

// NewStateMessage creates a session lifecycle message
func NewStateMessage(state, outcome string, err error) (*Message, error) {
	data := StateData{State: state, Outcome: outcome}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(TypeState, data)
}

// NewConfigMessage creates a camera settings message
func NewConfigMessage(cfg ConfigData) (*Message, error) {
	return NewMessage(TypeConfig, cfg)
}

// NewErrorMessage creates a terminal error message
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, map[string]string{"error": err.Error()})
}

// =============================================================================
// Helper functions for extracting data
// =============================================================================

// GetFrameData extracts frame metadata from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	if m.Type != TypeFrame {
		return nil, fmt.Errorf("message type is %s, not %s", m.Type, TypeFrame)
	}
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	if m.Type != TypeState {
		return nil, fmt.Errorf("message type is %s, not %s", m.Type, TypeState)
	}
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetConfigData extracts camera settings from a message
func (m *Message) GetConfigData() (*ConfigData, error) {
	if m.Type != TypeConfig {
		return nil, fmt.Errorf("message type is %s, not %s", m.Type, TypeConfig)
	}
	var data ConfigData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeImage decodes the base64 image, if any
func (f *FrameData) DecodeImage() ([]byte, error) {
	if f.Data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(f.Data)
}
