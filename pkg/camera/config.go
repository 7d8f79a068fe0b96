// Package camera provides the runtime-adjustable Miniscope settings.
// Settings may be changed at any time through the Manager; the capture loop
// reads them through Snapshot once per frame.
package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig is returned when a config fails validation.
	ErrInvalidConfig = errors.New("camera: invalid config")

	// ErrUnknownPreset is returned for a preset name that does not exist.
	ErrUnknownPreset = errors.New("camera: unknown preset")
)

// Gain is the image sensor analog gain. The value is the device code.
type Gain byte

const (
	GainLow    Gain = 225
	GainMedium Gain = 228
	GainHigh   Gain = 36
)

// String returns the gain name used in JSON and on the command line.
func (g Gain) String() string {
	switch g {
	case GainLow:
		return "low"
	case GainMedium:
		return "medium"
	case GainHigh:
		return "high"
	}
	return fmt.Sprintf("gain(%d)", byte(g))
}

// Valid reports whether g is one of the enumerated gains.
func (g Gain) Valid() bool {
	return g == GainLow || g == GainMedium || g == GainHigh
}

// ParseGain parses "low", "medium"/"med" or "high".
func ParseGain(s string) (Gain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return GainLow, nil
	case "medium", "med":
		return GainMedium, nil
	case "high":
		return GainHigh, nil
	}
	return 0, fmt.Errorf("unknown gain %q", s)
}

// MarshalJSON encodes the gain by name.
func (g Gain) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON accepts a gain name.
func (g *Gain) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseGain(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// FrameRate is the acquisition rate in frames per second.
type FrameRate int

const (
	FPS10 FrameRate = 10
	FPS15 FrameRate = 15
	FPS20 FrameRate = 20
	FPS25 FrameRate = 25
	FPS30 FrameRate = 30
)

// frameRateCodes holds the sensor frame length code, low byte | high byte<<8.
var frameRateCodes = map[FrameRate]uint16{
	FPS10: 39 | 16<<8,
	FPS15: 26 | 11<<8,
	FPS20: 19 | 136<<8,
	FPS25: 15 | 160<<8,
	FPS30: 12 | 228<<8,
}

// Code returns the 16-bit device code, or 0 for an unsupported rate.
func (r FrameRate) Code() uint16 {
	return frameRateCodes[r]
}

// Valid reports whether r is one of the enumerated rates.
func (r FrameRate) Valid() bool {
	_, ok := frameRateCodes[r]
	return ok
}

// FrameRates lists the supported rates in ascending order.
func FrameRates() []FrameRate {
	return []FrameRate{FPS10, FPS15, FPS20, FPS25, FPS30}
}

// Ranges for the continuous settings.
const (
	MinLEDBrightness = 0
	MaxLEDBrightness = 255
	MinFocus         = -127
	MaxFocus         = 127
)

// Config holds the four runtime-adjustable parameters.
type Config struct {
	// LEDBrightness is the excitation LED level, 0 (off) to 255.
	LEDBrightness int `json:"led_brightness"`

	// Focus is the electrowetting lens offset, -127 to 127.
	Focus int `json:"focus"`

	Gain      Gain      `json:"gain"`
	FrameRate FrameRate `json:"frame_rate"`
}

// DefaultConfig returns the power-on settings: LED off, lens centred,
// low gain, 30 fps.
func DefaultConfig() Config {
	return Config{
		LEDBrightness: 0,
		Focus:         0,
		Gain:          GainLow,
		FrameRate:     FPS30,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.LEDBrightness < MinLEDBrightness || c.LEDBrightness > MaxLEDBrightness {
		errors = append(errors, "led_brightness must be between 0 and 255")
	}
	if c.Focus < MinFocus || c.Focus > MaxFocus {
		errors = append(errors, "focus must be between -127 and 127")
	}
	if !c.Gain.Valid() {
		errors = append(errors, "gain must be low, medium, or high")
	}
	if !c.FrameRate.Valid() {
		errors = append(errors, "frame_rate must be 10, 15, 20, 25, or 30")
	}

	return errors
}

// Capabilities returns the settings ranges for configuration editors.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"device":         "miniscope_v4",
		"frame_width":    FrameWidth,
		"frame_height":   FrameHeight,
		"led_brightness": []int{MinLEDBrightness, MaxLEDBrightness},
		"focus":          []int{MinFocus, MaxFocus},
		"gains":          []string{GainLow.String(), GainMedium.String(), GainHigh.String()},
		"frame_rates":    FrameRates(),
	}
}

// Sensor geometry.
const (
	FrameWidth  = 608
	FrameHeight = 608
)
