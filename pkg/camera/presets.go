package camera

// Preset names for common configurations
const (
	PresetDefault  = "default"
	PresetDim      = "dim"
	PresetBright   = "bright"
	PresetFast     = "fast"
	PresetHighGain = "high-gain"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetDefault:  DefaultConfig(),
		PresetDim:      DimConfig(),
		PresetBright:   BrightConfig(),
		PresetFast:     FastConfig(),
		PresetHighGain: HighGainConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetDefault,
		PresetDim,
		PresetBright,
		PresetFast,
		PresetHighGain,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// DimConfig keeps excitation low to limit photobleaching during long sessions.
func DimConfig() Config {
	cfg := DefaultConfig()
	cfg.LEDBrightness = 20
	cfg.FrameRate = FPS20
	return cfg
}

// BrightConfig drives the LED harder for weakly expressing tissue.
func BrightConfig() Config {
	cfg := DefaultConfig()
	cfg.LEDBrightness = 120
	cfg.Gain = GainMedium
	return cfg
}

// FastConfig is the full 30 fps rate with moderate excitation.
func FastConfig() Config {
	cfg := DefaultConfig()
	cfg.LEDBrightness = 60
	cfg.FrameRate = FPS30
	return cfg
}

// HighGainConfig trades noise for sensitivity at a lower frame rate.
func HighGainConfig() Config {
	cfg := DefaultConfig()
	cfg.LEDBrightness = 40
	cfg.Gain = GainHigh
	cfg.FrameRate = FPS15
	return cfg
}
