// Package session runs one Miniscope capture session: open the device,
// bring it up, stream frames while applying setting changes, then shut it
// down.
//
// A session moves Closed → Initializing → Running → Draining → Closed and is
// never reused. Only one session per device index may hold the device at a
// time; a second session waits until the first has closed it.
//
// Cancellation is cooperative. The context is checked once per frame, after
// the frame has been emitted. A device call that blocks (for example a frame
// pull on an unplugged board) is not interrupted.
package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/capture"
	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateClosed State = iota
	StateInitializing
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	}
	return "unknown"
}

// Outcome is how a session ended.
type Outcome int

const (
	// OutcomeCompleted means the device reported end of stream.
	OutcomeCompleted Outcome = iota

	// OutcomeCancelled means the context ended.
	OutcomeCancelled

	// OutcomeFailed means a device operation failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Settings supplies the live camera configuration.
type Settings interface {
	Snapshot() camera.Config
}

// Option configures a Session.
type Option func(*Session)

// WithDeviceIndex selects the device to open. Default 0.
func WithDeviceIndex(index int) Option {
	return func(s *Session) {
		s.index = index
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStallWarning logs a warning when a single frame pull takes longer
// than d. The pull is not aborted.
func WithStallWarning(d time.Duration) Option {
	return func(s *Session) {
		s.stallWarning = d
	}
}

// WithStateHook registers fn to observe every state transition. fn runs on
// the session goroutine and must not block.
func WithStateHook(fn func(State)) Option {
	return func(s *Session) {
		s.onState = fn
	}
}

// Session is a single-use capture session.
type Session struct {
	opener   capture.Opener
	settings Settings

	index        int
	logger       *slog.Logger
	stallWarning time.Duration
	onState      func(State)

	state  atomic.Int32
	used   atomic.Bool
	ended  atomic.Bool
	frames atomic.Uint64
}

// New creates a session that opens devices through opener and reads its
// configuration from settings.
func New(opener capture.Opener, settings Settings, opts ...Option) *Session {
	s := &Session{
		opener:   opener,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session", "device", s.index)
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Ended reports whether the session has started shutting down. It turns
// true before the Draining transition and stays true.
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// Frames returns the number of frames emitted so far.
func (s *Session) Frames() uint64 {
	return s.frames.Load()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if s.onState != nil {
		s.onState(st)
	}
}

// Run opens the device and streams frames to emit until the stream ends,
// ctx is cancelled or a device operation fails. emit is called on the
// session goroutine; frames are not pulled while it runs.
//
// End of stream and cancellation are reported through the Outcome with a nil
// error. The device is always stopped and closed before Run returns, and
// cleanup failures are joined into the returned error.
func (s *Session) Run(ctx context.Context, emit func(Frame)) (outcome Outcome, err error) {
	if !s.used.CompareAndSwap(false, true) {
		return OutcomeFailed, ErrSessionUsed
	}

	unlock, err := lockDevice(ctx, s.index)
	if err != nil {
		s.ended.Store(true)
		s.logger.Debug("cancelled while waiting for device")
		return OutcomeCancelled, nil
	}
	defer unlock()

	s.setState(StateInitializing)
	dev, err := s.opener.Open(s.index)
	if err != nil {
		s.ended.Store(true)
		s.setState(StateDraining)
		s.setState(StateClosed)
		s.logger.Error("open failed", "error", err)
		return OutcomeFailed, &DeviceError{Op: OpOpen, Index: s.index, Err: err}
	}

	defer func() {
		s.ended.Store(true)
		s.setState(StateDraining)
		if cerr := s.drain(dev); cerr != nil {
			err = errors.Join(err, cerr)
			outcome = OutcomeFailed
		}
		s.setState(StateClosed)

		if err != nil {
			s.logger.Error("session ended", "outcome", outcome, "frames", s.Frames(), "error", err)
		} else {
			s.logger.Info("session ended", "outcome", outcome, "frames", s.Frames())
		}
	}()

	if err := s.initialize(dev); err != nil {
		return OutcomeFailed, err
	}

	s.setState(StateRunning)
	s.logger.Info("streaming started")

	var applied appliedSettings
	for {
		if err := applied.apply(dev, s.settings.Snapshot()); err != nil {
			return OutcomeFailed, s.deviceError(OpConfigure, err)
		}

		img, err := s.pull(dev)
		if errors.Is(err, capture.ErrEndOfStream) || (err == nil && img == nil) {
			return OutcomeCompleted, nil
		}
		if err != nil {
			return OutcomeFailed, s.deviceError(OpRead, err)
		}

		orientation, err := capture.ReadOrientation(dev)
		if err != nil {
			return OutcomeFailed, s.deviceError(OpOrientation, err)
		}

		frame := Frame{
			Index:       s.frames.Load(),
			Timestamp:   time.Now(),
			Image:       img,
			Orientation: orientation,
		}
		emit(frame)
		s.frames.Add(1)

		if ctx.Err() != nil {
			return OutcomeCancelled, nil
		}
	}
}

// initialize sends the bring-up sequence, sets the frame size and starts
// streaming.
func (s *Session) initialize(dev capture.Device) error {
	if err := capture.SendSequence(dev, protocol.InitSequence()); err != nil {
		return s.deviceError(OpInit, err)
	}
	if err := capture.SetFrameSize(dev, camera.FrameWidth, camera.FrameHeight); err != nil {
		return s.deviceError(OpInit, err)
	}
	if err := capture.StartStreaming(dev); err != nil {
		return s.deviceError(OpInit, err)
	}
	return nil
}

// pull reads one frame, warning if it takes longer than the stall threshold.
func (s *Session) pull(dev capture.Device) (img image.Image, err error) {
	if s.stallWarning > 0 {
		start := time.Now()
		timer := time.AfterFunc(s.stallWarning, func() {
			s.logger.Warn("frame pull stalled", "waited", time.Since(start).Round(time.Millisecond))
		})
		defer timer.Stop()
	}
	return dev.Read()
}

// drain stops streaming and closes the device. Both steps always run.
func (s *Session) drain(dev capture.Device) error {
	var errs []error
	if err := capture.StopStreaming(dev); err != nil {
		errs = append(errs, s.deviceError(OpStop, err))
	}
	if err := dev.Close(); err != nil {
		errs = append(errs, s.deviceError(OpClose, err))
	}
	return errors.Join(errs...)
}

func (s *Session) deviceError(op string, err error) error {
	return &DeviceError{Op: op, Index: s.index, Err: err}
}

// appliedSettings tracks the last value successfully sent for each
// parameter. A parameter that has never been sent is always sent.
type appliedSettings struct {
	cfg                          camera.Config
	led, focus, gain, frameRate bool
}

func (a *appliedSettings) apply(dev capture.Device, cfg camera.Config) error {
	if !a.led || cfg.LEDBrightness != a.cfg.LEDBrightness {
		for _, cmd := range protocol.LEDCommands(byte(cfg.LEDBrightness)) {
			if err := capture.SendConfig(dev, cmd); err != nil {
				return err
			}
		}
		a.cfg.LEDBrightness, a.led = cfg.LEDBrightness, true
	}

	if !a.focus || cfg.Focus != a.cfg.Focus {
		if err := capture.SendConfig(dev, protocol.FocusCommand(int8(cfg.Focus))); err != nil {
			return err
		}
		a.cfg.Focus, a.focus = cfg.Focus, true
	}

	if !a.gain || cfg.Gain != a.cfg.Gain {
		if err := capture.SendConfig(dev, protocol.GainCommand(byte(cfg.Gain))); err != nil {
			return err
		}
		a.cfg.Gain, a.gain = cfg.Gain, true
	}

	if !a.frameRate || cfg.FrameRate != a.cfg.FrameRate {
		if err := capture.SendConfig(dev, protocol.FrameRateCommand(cfg.FrameRate.Code())); err != nil {
			return err
		}
		a.cfg.FrameRate, a.frameRate = cfg.FrameRate, true
	}
	return nil
}
