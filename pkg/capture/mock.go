package capture

import (
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

// Mock is an Opener backed by synthetic devices.
// It records every property access so tests can check the exact command
// stream a session produced.
type Mock struct {
	// OpenFunc, if set, is consulted before each open. A non-nil error fails
	// the open.
	OpenFunc func(index int) error

	// ReadFunc, if set, supplies frame n (0-based per device).
	ReadFunc func(n int) (image.Image, error)

	// SetFunc, if set, is consulted before each property write.
	SetFunc func(p Property, v float64) error

	// FrameLimit ends the stream after that many frames. Zero means unlimited.
	FrameLimit int

	// FrameInterval delays each synthetic frame.
	FrameInterval time.Duration

	// Orientation is returned by the auxiliary orientation registers.
	Orientation [4]uint16

	// Width and Height of synthetic frames. Defaults to 8x8.
	Width, Height int

	// DisableRecording stops event recording, for long-running demo use.
	DisableRecording bool

	mu        sync.Mutex
	devices   []*MockDevice
	opens     int
	closes    int
	active    int
	maxActive int
}

// NewMock creates a mock opener producing unlimited 8x8 frames.
func NewMock() *Mock {
	return &Mock{Width: 8, Height: 8}
}

// Open returns a new MockDevice.
func (m *Mock) Open(index int) (Device, error) {
	if m.OpenFunc != nil {
		if err := m.OpenFunc(index); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d := &MockDevice{mock: m, index: index}
	m.devices = append(m.devices, d)
	m.opens++
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	return d, nil
}

// Opens returns the number of successful opens.
func (m *Mock) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Closes returns the number of Close calls across all devices.
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MaxConcurrent returns the largest number of devices open at once.
func (m *Mock) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// Devices returns every device opened so far, oldest first.
func (m *Mock) Devices() []*MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockDevice(nil), m.devices...)
}

// Last returns the most recently opened device, or nil.
func (m *Mock) Last() *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.devices) == 0 {
		return nil
	}
	return m.devices[len(m.devices)-1]
}

func (m *Mock) released() {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
}

func (m *Mock) deactivated() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

// MockOp identifies a recorded device access.
type MockOp string

const (
	OpSet     MockOp = "set"
	OpGet     MockOp = "get"
	OpRead    MockOp = "read"
	OpClose   MockOp = "close"
	OpCommand MockOp = "command"
)

// MockEvent is one recorded device access. OpCommand events are synthesized
// when a complete DAQ packet has been written.
type MockEvent struct {
	Op      MockOp
	Prop    Property
	Value   float64
	Command protocol.Command
}

// MockDevice is a synthetic Device.
type MockDevice struct {
	mock  *Mock
	index int

	mu        sync.Mutex
	events    []MockEvent
	words     [3]uint16
	reads     int
	streaming bool
	closed    bool
	props     map[Property]float64
}

// Index returns the device index the device was opened with.
func (d *MockDevice) Index() int {
	return d.index
}

// Set records a property write. Writing Sharpness completes a packet.
func (d *MockDevice) Set(p Property, v float64) error {
	if d.mock.SetFunc != nil {
		if err := d.mock.SetFunc(p, v); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.record(MockEvent{Op: OpSet, Prop: p, Value: v})
	if d.props == nil {
		d.props = make(map[Property]float64)
	}
	d.props[p] = v

	switch p {
	case PropContrast:
		d.words[0] = uint16(v)
	case PropGamma:
		d.words[1] = uint16(v)
	case PropSharpness:
		d.words[2] = uint16(v)
		packet := uint64(d.words[0]) | uint64(d.words[1])<<16 | uint64(d.words[2])<<32
		d.record(MockEvent{Op: OpCommand, Command: protocol.Unpack(packet)})
	case PropSaturation:
		d.streaming = v != 0
	}
	return nil
}

// Get returns the orientation registers, or the last written value for any
// other property.
func (d *MockDevice) Get(p Property) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	d.record(MockEvent{Op: OpGet, Prop: p})
	for i, op := range orientationProps {
		if op == p {
			return float64(d.mock.Orientation[i]), nil
		}
	}
	return d.props[p], nil
}

// Read returns the next synthetic frame.
func (d *MockDevice) Read() (image.Image, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	n := d.reads
	d.reads++
	d.record(MockEvent{Op: OpRead})
	d.mu.Unlock()

	if d.mock.ReadFunc != nil {
		return d.mock.ReadFunc(n)
	}
	if d.mock.FrameLimit > 0 && n >= d.mock.FrameLimit {
		return nil, ErrEndOfStream
	}
	if d.mock.FrameInterval > 0 {
		time.Sleep(d.mock.FrameInterval)
	}

	w, h := d.mock.Width, d.mock.Height
	if w <= 0 || h <= 0 {
		w, h = 8, 8
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(n)
	}
	img.SetGray(0, 0, color.Gray{Y: byte(n >> 8)})
	return img, nil
}

// Close marks the device closed. Every call is counted.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	first := !d.closed
	d.closed = true
	d.streaming = false
	d.record(MockEvent{Op: OpClose})
	d.mu.Unlock()

	d.mock.released()
	if first {
		d.mock.deactivated()
	}
	return nil
}

// record appends e. Callers hold d.mu.
func (d *MockDevice) record(e MockEvent) {
	if d.mock.DisableRecording {
		return
	}
	d.events = append(d.events, e)
}

// Events returns a copy of the recorded accesses.
func (d *MockDevice) Events() []MockEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]MockEvent(nil), d.events...)
}

// Commands returns the reassembled commands in the order they were sent.
func (d *MockDevice) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var cmds []protocol.Command
	for _, e := range d.events {
		if e.Op == OpCommand {
			cmds = append(cmds, e.Command)
		}
	}
	return cmds
}

// Reads returns how many frames were pulled.
func (d *MockDevice) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Streaming reports whether streaming is currently enabled.
func (d *MockDevice) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Closed reports whether Close has been called.
func (d *MockDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Value returns the last value written to p.
func (d *MockDevice) Value(p Property) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.props[p]
}
