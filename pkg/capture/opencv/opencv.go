// Package opencv implements capture.Device on top of OpenCV's VideoCapture.
package opencv

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-miniscope/pkg/capture"
)

// Opener opens Miniscope DAQ boards as OpenCV video devices.
type Opener struct {
	// API selects the capture backend. Zero lets OpenCV choose.
	API gocv.VideoCaptureAPI

	Logger *slog.Logger
}

// NewOpener creates an opener using the given backend.
func NewOpener(api gocv.VideoCaptureAPI, logger *slog.Logger) *Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{API: api, Logger: logger}
}

// Open opens the video device at index.
func (o *Opener) Open(index int) (capture.Device, error) {
	vc, err := gocv.OpenVideoCaptureWithAPI(index, o.API)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video device %d: not available", index)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("video device opened", "component", "opencv", "index", index, "api", int(o.API))

	return &device{vc: vc, frame: gocv.NewMat()}, nil
}

type device struct {
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	gray   gocv.Mat
	toGray bool
	closed bool
}

func (d *device) Set(p capture.Property, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return capture.ErrClosed
	}
	d.vc.Set(gocv.VideoCaptureProperties(p), v)
	return nil
}

func (d *device) Get(p capture.Property) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, capture.ErrClosed
	}
	return d.vc.Get(gocv.VideoCaptureProperties(p)), nil
}

// Read grabs the next frame and converts it to a Go image. The DAQ delivers
// monochrome data in a three-channel container, so colour frames are
// reduced to gray.
func (d *device) Read() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, capture.ErrClosed
	}

	if ok := d.vc.Read(&d.frame); !ok || d.frame.Empty() {
		return nil, capture.ErrEndOfStream
	}

	src := d.frame
	if d.frame.Channels() > 1 {
		if !d.toGray {
			d.gray = gocv.NewMat()
			d.toGray = true
		}
		gocv.CvtColor(d.frame, &d.gray, gocv.ColorBGRToGray)
		src = d.gray
	}

	img, err := src.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

func (d *device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	d.frame.Close()
	if d.toGray {
		d.gray.Close()
	}
	return d.vc.Close()
}
