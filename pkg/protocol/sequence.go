package protocol

// initSequence brings up the SERDES link before any remote device is
// addressed, then the orientation sensor, the lens driver and the sensor
// clock. Later entries rely on the link state set by earlier ones.
var initSequence = []Command{
	// SERDES: 12-bit pixel mode on both ends
	Encode(TargetDeserializer, 0x1F, 0x10),
	Encode(TargetSerializer, 0x05, 0x20),
	// Deserializer I2C timing and back-channel timeout
	Encode(TargetDeserializer, 0x22, 0x02),
	Encode(TargetDeserializer, 0x20, 0x0A),
	// Deserializer learns the serializer address
	Encode(TargetDeserializer, 0x07, TargetSerializer),
	// Serializer I2C timing and back-channel timeout
	Encode(TargetSerializer, 0x0F, 0x02),
	Encode(TargetSerializer, 0x1E, 0x0A),
	// Remote slave IDs and their aliases
	Encode(TargetDeserializer, 0x08, TargetMCU, TargetFocusDriver, 0xA0, TargetOrientation),
	Encode(TargetDeserializer, 0x10, TargetMCU, TargetFocusDriver, TargetDigitalPot, TargetOrientation),
	// BNO055 axis remap, then NDOF fusion mode
	Encode(TargetOrientation, 0x41, 0x06, 0x07),
	Encode(TargetOrientation, 0x3D, 0x0C),
	// Lens driver enable
	Encode(TargetFocusDriver, 0x03, 0x03),
	// Image sensor PLL enable through the MCU bridge
	Encode(TargetMCU, regSensorBridge, 0x00, 0x10, 0x03),
}

// InitSequence returns the ordered bring-up commands for the V4 hardware
// revision. Each call returns fresh copies.
func InitSequence() []Command {
	out := make([]Command, len(initSequence))
	for i, cmd := range initSequence {
		out[i] = append(Command(nil), cmd...)
	}
	return out
}

// LEDCommands returns the LED driver write and its potentiometer mirror.
// The device dims as the byte grows, so level 0 is sent as 255.
func LEDCommands(level byte) [2]Command {
	inverted := 255 - level
	return [2]Command{
		Encode(TargetMCU, regLEDDriver, inverted),
		Encode(TargetDigitalPot, regPotWiper, potWiperSelect, inverted),
	}
}

// FocusCommand sets the lens voltage for an offset in [-127, 127].
func FocusCommand(offset int8) Command {
	return Encode(TargetFocusDriver, regFocusVoltage, byte(127+int(offset)), focusDriverSelect)
}

// FrameRateCommand writes a 16-bit frame length code, low byte first.
func FrameRateCommand(code uint16) Command {
	return Encode(TargetMCU, regSensorBridge,
		selFrameLengthHi, selFrameLengthLo,
		byte(code&0xFF), byte((code>>8)&0xFF),
	)
}

// GainCommand writes the analog gain code.
func GainCommand(code byte) Command {
	return Encode(TargetMCU, regSensorBridge, selAnalogGainHi, selAnalogGainLo, code)
}
