// Package protocol defines the Miniscope control-register command encoding
// and the JSON messages streamed to remote viewers.
//
// A Command is the byte sequence [target][register][payload...]. Targets are
// 8-bit I2C write addresses behind the SERDES link:
//
//	0xC0  deserializer
//	0xB0  serializer
//	0x50  BNO055 orientation sensor
//	0xEE  electrowetting lens driver
//	0x20  MCU bridge (LED driver, image sensor registers)
//	0x58  digital potentiometer (LED mirror)
package protocol

import "errors"

// Device targets.
const (
	TargetDeserializer byte = 0xC0
	TargetSerializer   byte = 0xB0
	TargetOrientation  byte = 0x50
	TargetFocusDriver  byte = 0xEE
	TargetMCU          byte = 0x20
	TargetDigitalPot   byte = 0x58
)

// Image sensor register selectors, sent through the MCU bridge register 0x05.
const (
	regSensorBridge   byte = 0x05
	selFrameLengthHi  byte = 0x00
	selFrameLengthLo  byte = 0xC9
	selAnalogGainHi   byte = 0x00
	selAnalogGainLo   byte = 0xCC
	regLEDDriver      byte = 0x01
	regPotWiper       byte = 0x00
	potWiperSelect    byte = 0x72
	regFocusVoltage   byte = 0x08
	focusDriverSelect byte = 0x02
)

// MaxCommandLen is the largest command the DAQ packet can carry.
const MaxCommandLen = 6

// ErrCommandTooLong is returned when a command does not fit in one packet.
var ErrCommandTooLong = errors.New("protocol: command longer than 6 bytes")

// Command is an encoded register write.
type Command []byte

// Encode builds a command addressed to register on target.
// The payload is copied; callers may reuse their slice.
func Encode(target, register byte, payload ...byte) Command {
	cmd := make(Command, 0, 2+len(payload))
	cmd = append(cmd, target, register)
	return append(cmd, payload...)
}

// Target returns the addressed device, or 0 for an empty command.
func (c Command) Target() byte {
	if len(c) == 0 {
		return 0
	}
	return c[0]
}

// Register returns the addressed register, or 0 if absent.
func (c Command) Register() byte {
	if len(c) < 2 {
		return 0
	}
	return c[1]
}

// Payload returns the bytes after the register.
func (c Command) Payload() []byte {
	if len(c) < 2 {
		return nil
	}
	return c[2:]
}

// Equal reports whether two commands carry the same bytes.
func (c Command) Equal(other Command) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Pack folds a command into the 64-bit packet the DAQ firmware expects.
//
// Six-byte commands are sent verbatim, byte i in bits 8i..8i+7. Shorter
// commands set the target's low bit and carry the number of bytes following
// the target in byte 1, shifting register and payload up by one byte.
func Pack(c Command) (uint64, error) {
	if len(c) > MaxCommandLen {
		return 0, ErrCommandTooLong
	}
	if len(c) == 0 {
		return 0, nil
	}

	var packet uint64
	if len(c) == MaxCommandLen {
		for i, b := range c {
			packet |= uint64(b) << (8 * i)
		}
		return packet, nil
	}

	packet = uint64(c[0] | 0x01)
	packet |= uint64(len(c)-1) << 8
	for i := 1; i < len(c); i++ {
		packet |= uint64(c[i]) << (8 * (i + 1))
	}
	return packet, nil
}

// Unpack is the inverse of Pack.
func Unpack(packet uint64) Command {
	first := byte(packet)
	if first&0x01 == 0 {
		cmd := make(Command, MaxCommandLen)
		for i := range cmd {
			cmd[i] = byte(packet >> (8 * i))
		}
		return cmd
	}

	n := int(byte(packet >> 8))
	if n > MaxCommandLen-2 {
		n = MaxCommandLen - 2
	}
	cmd := make(Command, 0, n+1)
	cmd = append(cmd, first&^0x01)
	for i := 0; i < n; i++ {
		cmd = append(cmd, byte(packet>>(8*(i+2))))
	}
	return cmd
}
