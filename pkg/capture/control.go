package capture

import (
	"fmt"

	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

// packetWords lists the properties carrying the three 16-bit words of a DAQ
// packet, least significant first. The Sharpness write commits the packet.
var packetWords = [3]Property{PropContrast, PropGamma, PropSharpness}

// orientationProps lists the auxiliary registers holding the quaternion,
// in w, x, y, z order.
var orientationProps = [4]Property{PropSaturation, PropHue, PropGain, PropBrightness}

// SendConfig writes one command to the device.
func SendConfig(dev Device, cmd protocol.Command) error {
	packet, err := protocol.Pack(cmd)
	if err != nil {
		return err
	}
	for i, p := range packetWords {
		word := uint16(packet >> (16 * i))
		if err := dev.Set(p, float64(word)); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

// SendSequence writes commands in order, stopping at the first failure.
func SendSequence(dev Device, cmds []protocol.Command) error {
	for i, cmd := range cmds {
		if err := SendConfig(dev, cmd); err != nil {
			return fmt.Errorf("command %d (% x): %w", i, []byte(cmd), err)
		}
	}
	return nil
}

// SetFrameSize requests the sensor resolution.
func SetFrameSize(dev Device, width, height int) error {
	if err := dev.Set(PropFrameWidth, float64(width)); err != nil {
		return fmt.Errorf("write %s: %w", PropFrameWidth, err)
	}
	if err := dev.Set(PropFrameHeight, float64(height)); err != nil {
		return fmt.Errorf("write %s: %w", PropFrameHeight, err)
	}
	return nil
}

// StartStreaming tells the DAQ to begin sending frames.
func StartStreaming(dev Device) error {
	return dev.Set(PropSaturation, 1)
}

// StopStreaming tells the DAQ to stop sending frames.
func StopStreaming(dev Device) error {
	return dev.Set(PropSaturation, 0)
}

// ReadOrientation reads the raw BNO055 quaternion (w, x, y, z) latched with
// the most recent frame.
func ReadOrientation(dev Device) ([4]uint16, error) {
	var q [4]uint16
	for i, p := range orientationProps {
		v, err := dev.Get(p)
		if err != nil {
			return q, fmt.Errorf("read %s: %w", p, err)
		}
		q[i] = uint16(int64(v))
	}
	return q, nil
}
