package camera

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Manager holds the live camera configuration and handles updates.
// Readers take immutable snapshots; writers replace the whole config.
type Manager struct {
	config atomic.Pointer[Config]

	// Serializes read-modify-write updates; Snapshot never takes it.
	mu sync.Mutex

	// Callback when config changes (for dashboards and telemetry)
	OnConfigChange func(cfg Config)
}

// NewManager creates a new camera manager with default config.
func NewManager() *Manager {
	return NewManagerWith(DefaultConfig())
}

// NewManagerWith creates a manager seeded with cfg. Invalid values are
// replaced by defaults field by field.
func NewManagerWith(cfg Config) *Manager {
	m := &Manager{}
	def := DefaultConfig()
	if cfg.LEDBrightness < MinLEDBrightness || cfg.LEDBrightness > MaxLEDBrightness {
		cfg.LEDBrightness = def.LEDBrightness
	}
	if cfg.Focus < MinFocus || cfg.Focus > MaxFocus {
		cfg.Focus = def.Focus
	}
	if !cfg.Gain.Valid() {
		cfg.Gain = def.Gain
	}
	if !cfg.FrameRate.Valid() {
		cfg.FrameRate = def.FrameRate
	}
	m.config.Store(&cfg)
	return m
}

// Snapshot returns a copy of the current configuration.
// It is a single atomic load, so the four fields are always mutually consistent.
func (m *Manager) Snapshot() Config {
	return *m.config.Load()
}

// SetConfig validates and replaces the camera configuration.
func (m *Manager) SetConfig(cfg Config) error {
	return m.update(func(c *Config) error {
		*c = cfg
		return nil
	})
}

// SetLEDBrightness updates only the LED level.
func (m *Manager) SetLEDBrightness(level int) error {
	return m.update(func(c *Config) error { c.LEDBrightness = level; return nil })
}

// SetFocus updates only the lens offset.
func (m *Manager) SetFocus(offset int) error {
	return m.update(func(c *Config) error { c.Focus = offset; return nil })
}

// SetGain updates only the sensor gain.
func (m *Manager) SetGain(g Gain) error {
	return m.update(func(c *Config) error { c.Gain = g; return nil })
}

// SetFrameRate updates only the frame rate.
func (m *Manager) SetFrameRate(r FrameRate) error {
	return m.update(func(c *Config) error { c.FrameRate = r; return nil })
}

// ApplyPreset replaces the configuration with a named preset.
func (m *Manager) ApplyPreset(name string) error {
	preset := GetPreset(name)
	if preset == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return m.SetConfig(*preset)
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values, as decoded from JSON.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	return m.update(func(cfg *Config) error {
		// Check for preset first
		if presetName, ok := params["preset"].(string); ok {
			preset := GetPreset(presetName)
			if preset == nil {
				return fmt.Errorf("%w: %s", ErrUnknownPreset, presetName)
			}
			*cfg = *preset
		}

		for key, value := range params {
			switch key {
			case "preset":
			case "led_brightness":
				v, ok := toInt(value)
				if !ok {
					return fmt.Errorf("%w: led_brightness must be an integer", ErrInvalidConfig)
				}
				cfg.LEDBrightness = v
			case "focus":
				v, ok := toInt(value)
				if !ok {
					return fmt.Errorf("%w: focus must be an integer", ErrInvalidConfig)
				}
				cfg.Focus = v
			case "frame_rate":
				v, ok := toInt(value)
				if !ok {
					return fmt.Errorf("%w: frame_rate must be an integer", ErrInvalidConfig)
				}
				cfg.FrameRate = FrameRate(v)
			case "gain":
				s, ok := value.(string)
				if !ok {
					return fmt.Errorf("%w: gain must be a string", ErrInvalidConfig)
				}
				g, err := ParseGain(s)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
				}
				cfg.Gain = g
			default:
				return fmt.Errorf("%w: unknown field %q", ErrInvalidConfig, key)
			}
		}
		return nil
	})
}

// update applies mutate to a copy of the current config and stores it if
// the result is valid. Concurrent updates never lose each other's fields.
func (m *Manager) update(mutate func(*Config) error) error {
	m.mu.Lock()
	cfg := m.Snapshot()
	if err := mutate(&cfg); err != nil {
		m.mu.Unlock()
		return err
	}
	if errors := cfg.Validate(); len(errors) > 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errors, "; "))
	}
	m.config.Store(&cfg)
	callback := m.OnConfigChange
	m.mu.Unlock()

	if callback != nil {
		callback(cfg)
	}
	return nil
}

// Helper functions for type conversion

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}
