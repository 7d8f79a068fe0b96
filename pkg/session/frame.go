package session

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"time"

	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

// quaternionScale converts BNO055 quaternion LSBs to unit values.
const quaternionScale = 1.0 / 16384

// DefaultJPEGQuality is used when a non-positive quality is requested.
const DefaultJPEGQuality = 80

// Frame is one image with the head orientation read right after it.
// Frames are shared between subscribers and must not be modified.
type Frame struct {
	// Index counts frames emitted by the session, starting at 0.
	Index uint64

	Timestamp time.Time
	Image     image.Image

	// Orientation holds the raw w, x, y, z quaternion registers.
	Orientation [4]uint16
}

// Quaternion returns the orientation as a unit quaternion (w, x, y, z).
func (f Frame) Quaternion() [4]float64 {
	var q [4]float64
	for i, raw := range f.Orientation {
		q[i] = float64(int16(raw)) * quaternionScale
	}
	return q
}

// Metadata describes the frame for remote viewers, without image data.
func (f Frame) Metadata() protocol.FrameData {
	meta := protocol.FrameData{
		Index:       f.Index,
		CapturedAt:  f.Timestamp.UnixMilli(),
		Orientation: f.Orientation,
		Quaternion:  f.Quaternion(),
	}
	if f.Image != nil {
		b := f.Image.Bounds()
		meta.Width, meta.Height = b.Dx(), b.Dy()
	}
	return meta
}

// JPEG encodes the image.
func (f Frame) JPEG(quality int) ([]byte, error) {
	if f.Image == nil {
		return nil, errors.New("frame has no image")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
