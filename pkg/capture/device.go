// Package capture provides access to the Miniscope through a frame grabber.
//
// The device exposes no dedicated control endpoint. Register writes are
// tunnelled through numbered video-capture properties and the orientation
// sensor is read back through otherwise unused image properties. This package
// holds that mapping; the frame grabber itself is supplied as a Device.
package capture

import (
	"errors"
	"image"
)

var (
	// ErrEndOfStream is returned by Device.Read when no more frames will arrive.
	ErrEndOfStream = errors.New("capture: end of stream")

	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("capture: device closed")
)

// Property is a numbered video-capture property. Values follow OpenCV's
// CAP_PROP numbering so adapters can pass them straight through.
type Property int

const (
	PropFrameWidth  Property = 3
	PropFrameHeight Property = 4
	PropBrightness  Property = 10
	PropContrast    Property = 11
	PropSaturation  Property = 12
	PropHue         Property = 13
	PropGain        Property = 14
	PropSharpness   Property = 20
	PropGamma       Property = 22
)

// String returns the property name.
func (p Property) String() string {
	switch p {
	case PropFrameWidth:
		return "frame_width"
	case PropFrameHeight:
		return "frame_height"
	case PropBrightness:
		return "brightness"
	case PropContrast:
		return "contrast"
	case PropSaturation:
		return "saturation"
	case PropHue:
		return "hue"
	case PropGain:
		return "gain"
	case PropSharpness:
		return "sharpness"
	case PropGamma:
		return "gamma"
	}
	return "property"
}

// Device is an open frame grabber.
//
// Calls may block indefinitely on a disconnected device; callers that need a
// bound must enforce it themselves.
type Device interface {
	// Set writes a numbered property.
	Set(p Property, v float64) error

	// Get reads a numbered property.
	Get(p Property) (float64, error)

	// Read pulls the next frame. ErrEndOfStream, or a nil image with a nil
	// error, means the stream has ended.
	Read() (image.Image, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Opener opens a device by index.
type Opener interface {
	Open(index int) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(index int) (Device, error)

// Open calls f(index).
func (f OpenerFunc) Open(index int) (Device, error) {
	return f(index)
}
