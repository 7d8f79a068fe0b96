package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/capture"
	"github.com/teslashibe/go-miniscope/pkg/protocol"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// segments splits a device's command stream at each frame pull. Segment i
// holds the commands sent after pull i-1 and before pull i.
func segments(dev *capture.MockDevice) [][]protocol.Command {
	segs := [][]protocol.Command{nil}
	for _, e := range dev.Events() {
		switch e.Op {
		case capture.OpCommand:
			segs[len(segs)-1] = append(segs[len(segs)-1], e.Command)
		case capture.OpRead:
			segs = append(segs, nil)
		}
	}
	return segs
}

func equalCommands(a, b []protocol.Command) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func settingsCommands(cfg camera.Config) []protocol.Command {
	led := protocol.LEDCommands(byte(cfg.LEDBrightness))
	return []protocol.Command{
		led[0],
		led[1],
		protocol.FocusCommand(int8(cfg.Focus)),
		protocol.GainCommand(byte(cfg.Gain)),
		protocol.FrameRateCommand(cfg.FrameRate.Code()),
	}
}

func TestRun_CompletesAtEndOfStream(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 3

	var mu sync.Mutex
	var states []State
	s := New(mock, camera.NewManager(), WithLogger(quiet), WithStateHook(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}))

	var frames []Frame
	outcome, err := s.Run(context.Background(), func(f Frame) { frames = append(frames, f) })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("Run() outcome = %v, want completed", outcome)
	}
	if len(frames) != 3 {
		t.Fatalf("emitted %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Index != uint64(i) {
			t.Errorf("frame %d has index %d", i, f.Index)
		}
		if f.Image == nil {
			t.Errorf("frame %d has no image", i)
		}
	}

	if mock.Closes() != 1 {
		t.Errorf("device closed %d times, want 1", mock.Closes())
	}
	dev := mock.Last()
	if !dev.Closed() || dev.Streaming() {
		t.Error("device left open or streaming")
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want closed", s.State())
	}

	want := []State{StateInitializing, StateRunning, StateDraining, StateClosed}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestRun_NilImageIsEndOfStream(t *testing.T) {
	mock := capture.NewMock()
	mock.ReadFunc = func(n int) (image.Image, error) {
		if n == 1 {
			return nil, nil
		}
		return image.NewGray(image.Rect(0, 0, 2, 2)), nil
	}

	emitted := 0
	outcome, err := New(mock, camera.NewManager(), WithLogger(quiet)).Run(context.Background(), func(Frame) { emitted++ })
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("Run() = %v, %v; want completed, nil", outcome, err)
	}
	if emitted != 1 {
		t.Errorf("emitted %d frames, want 1", emitted)
	}
	if mock.Closes() != 1 {
		t.Errorf("device closed %d times, want 1", mock.Closes())
	}
}

func TestRun_InitializesBeforeFirstFrame(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 1

	settings := camera.NewManager()
	if _, err := New(mock, settings, WithLogger(quiet)).Run(context.Background(), func(Frame) {}); err != nil {
		t.Fatal(err)
	}

	dev := mock.Last()
	segs := segments(dev)
	first := segs[0]
	bringUp := protocol.InitSequence()

	if len(first) != len(bringUp)+5 {
		t.Fatalf("sent %d commands before first frame, want %d", len(first), len(bringUp)+5)
	}
	if !equalCommands(first[:len(bringUp)], bringUp) {
		t.Error("bring-up sequence not sent first and in order")
	}

	// Defaults are applied even though nothing changed.
	if !equalCommands(first[len(bringUp):], settingsCommands(camera.DefaultConfig())) {
		t.Errorf("first iteration sent %v", first[len(bringUp):])
	}

	rate := first[len(first)-1].Payload()
	if rate[2] != 12 || rate[3] != 228 {
		t.Errorf("30 fps encoded as %d,%d, want 12,228", rate[2], rate[3])
	}

	// Frame size and streaming start sit between the bring-up and the
	// first settings write.
	var order []string
	commands := 0
	for _, e := range dev.Events() {
		if e.Op == capture.OpCommand {
			commands++
			continue
		}
		if e.Op == capture.OpSet && commands == len(bringUp) {
			switch e.Prop {
			case capture.PropFrameWidth, capture.PropFrameHeight, capture.PropSaturation:
				order = append(order, e.Prop.String())
			}
		}
	}
	want := []string{"frame_width", "frame_height", "saturation"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("post-init writes = %v, want %v", order, want)
	}
	if dev.Value(capture.PropFrameWidth) != 608 || dev.Value(capture.PropFrameHeight) != 608 {
		t.Error("frame size not 608x608")
	}
}

func TestRun_AppliesChangeBeforeNextFrame(t *testing.T) {
	tests := []struct {
		name   string
		change func(*camera.Manager) error
		want   []protocol.Command
	}{
		{
			name:   "led",
			change: func(m *camera.Manager) error { return m.SetLEDBrightness(100) },
			want:   []protocol.Command{protocol.LEDCommands(100)[0], protocol.LEDCommands(100)[1]},
		},
		{
			name:   "focus",
			change: func(m *camera.Manager) error { return m.SetFocus(-10) },
			want:   []protocol.Command{protocol.FocusCommand(-10)},
		},
		{
			name:   "gain",
			change: func(m *camera.Manager) error { return m.SetGain(camera.GainHigh) },
			want:   []protocol.Command{protocol.GainCommand(36)},
		},
		{
			name:   "frame rate",
			change: func(m *camera.Manager) error { return m.SetFrameRate(camera.FPS10) },
			want:   []protocol.Command{protocol.FrameRateCommand(39 | 16<<8)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := capture.NewMock()
			settings := camera.NewManager()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			emit := func(f Frame) {
				switch f.Index {
				case 1:
					if err := tt.change(settings); err != nil {
						t.Errorf("change: %v", err)
					}
				case 3:
					cancel()
				}
			}
			outcome, err := New(mock, settings, WithLogger(quiet)).Run(ctx, emit)
			if err != nil || outcome != OutcomeCancelled {
				t.Fatalf("Run() = %v, %v; want cancelled, nil", outcome, err)
			}

			segs := segments(mock.Last())
			if len(segs) != 5 {
				t.Fatalf("got %d segments, want 5 (4 pulls)", len(segs))
			}
			if len(segs[1]) != 0 {
				t.Errorf("unchanged settings resent before pull 1: %v", segs[1])
			}
			if !equalCommands(segs[2], tt.want) {
				t.Errorf("before pull 2 sent %v, want %v", segs[2], tt.want)
			}
			if len(segs[3]) != 0 {
				t.Errorf("change resent before pull 3: %v", segs[3])
			}
		})
	}
}

func TestRun_UnchangedSettingsSendNothing(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 10

	settings := camera.NewManager()
	emit := func(f Frame) {
		// Rewriting the same value is not a change.
		settings.SetLEDBrightness(0)
	}
	if _, err := New(mock, settings, WithLogger(quiet)).Run(context.Background(), emit); err != nil {
		t.Fatal(err)
	}

	segs := segments(mock.Last())
	for i := 1; i < len(segs); i++ {
		if len(segs[i]) != 0 {
			t.Errorf("segment %d sent %v", i, segs[i])
		}
	}
}

func TestRun_Cancellation(t *testing.T) {
	mock := capture.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emitted := 0
	outcome, err := New(mock, camera.NewManager(), WithLogger(quiet)).Run(ctx, func(f Frame) {
		emitted++
		if f.Index == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome != OutcomeCancelled {
		t.Errorf("Run() outcome = %v, want cancelled", outcome)
	}
	if emitted != 3 {
		t.Errorf("emitted %d frames, want 3", emitted)
	}

	dev := mock.Last()
	if dev.Reads() != 3 {
		t.Errorf("pulled %d frames after cancellation boundary, want 3", dev.Reads())
	}
	if mock.Closes() != 1 || !dev.Closed() {
		t.Errorf("closes = %d, closed = %v", mock.Closes(), dev.Closed())
	}
	if dev.Streaming() {
		t.Error("streaming not stopped")
	}
}

func TestRun_OpenFailure(t *testing.T) {
	mock := capture.NewMock()
	unplugged := errors.New("no such device")
	mock.OpenFunc = func(int) error { return unplugged }

	var states []State
	s := New(mock, camera.NewManager(), WithLogger(quiet), WithDeviceIndex(3), WithStateHook(func(st State) {
		states = append(states, st)
	}))
	outcome, err := s.Run(context.Background(), func(Frame) { t.Error("unexpected frame") })
	if outcome != OutcomeFailed {
		t.Errorf("Run() outcome = %v, want failed", outcome)
	}

	var derr *DeviceError
	if !errors.As(err, &derr) || derr.Op != OpOpen || derr.Index != 3 {
		t.Fatalf("Run() error = %v, want open DeviceError on device 3", err)
	}
	if !errors.Is(err, unplugged) {
		t.Error("DeviceError does not unwrap to the cause")
	}
	if mock.Closes() != 0 {
		t.Error("nothing to close after a failed open")
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want closed", s.State())
	}
	want := []State{StateInitializing, StateDraining, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, states[i], want[i])
		}
	}
	if !s.Ended() {
		t.Error("Ended() = false after a failed open")
	}
}

func TestRun_InitFailureStillCleansUp(t *testing.T) {
	mock := capture.NewMock()
	boom := errors.New("i2c nack")
	var mu sync.Mutex
	writes := 0
	mock.SetFunc = func(capture.Property, float64) error {
		mu.Lock()
		defer mu.Unlock()
		writes++
		if writes == 5 {
			return boom
		}
		return nil
	}

	outcome, err := New(mock, camera.NewManager(), WithLogger(quiet)).Run(context.Background(), func(Frame) {})
	if outcome != OutcomeFailed {
		t.Errorf("Run() outcome = %v, want failed", outcome)
	}
	var derr *DeviceError
	if !errors.As(err, &derr) || derr.Op != OpInit || !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want init DeviceError", err)
	}
	if mock.Closes() != 1 {
		t.Errorf("device closed %d times, want 1", mock.Closes())
	}
	if mock.Last().Reads() != 0 {
		t.Error("frames pulled after failed bring-up")
	}
}

func TestRun_CleanupErrorsAreJoined(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 1
	readErr := errors.New("usb reset")
	stopErr := errors.New("stop failed")
	mock.ReadFunc = func(int) (image.Image, error) { return nil, readErr }
	mock.SetFunc = func(p capture.Property, v float64) error {
		if p == capture.PropSaturation && v == 0 {
			return stopErr
		}
		return nil
	}

	outcome, err := New(mock, camera.NewManager(), WithLogger(quiet)).Run(context.Background(), func(Frame) {})
	if outcome != OutcomeFailed {
		t.Errorf("Run() outcome = %v, want failed", outcome)
	}
	if !errors.Is(err, readErr) || !errors.Is(err, stopErr) {
		t.Errorf("Run() error = %v, want both read and stop errors", err)
	}
	if mock.Closes() != 1 {
		t.Errorf("device closed %d times, want 1", mock.Closes())
	}
}

func TestRun_SecondRunRejected(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 1
	s := New(mock, camera.NewManager(), WithLogger(quiet))

	if _, err := s.Run(context.Background(), func(Frame) {}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), func(Frame) {}); !errors.Is(err, ErrSessionUsed) {
		t.Errorf("second Run() error = %v, want ErrSessionUsed", err)
	}
	if mock.Opens() != 1 {
		t.Errorf("Opens() = %d, want 1", mock.Opens())
	}
}

func TestRun_OneSessionPerDevice(t *testing.T) {
	mock := capture.NewMock()
	mock.FrameLimit = 5
	mock.FrameInterval = time.Millisecond
	settings := camera.NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New(mock, settings, WithLogger(quiet), WithDeviceIndex(7))
			if _, err := s.Run(context.Background(), func(Frame) {}); err != nil {
				t.Errorf("Run() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if mock.Opens() != 4 {
		t.Errorf("Opens() = %d, want 4", mock.Opens())
	}
	if mock.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent() = %d, want 1", mock.MaxConcurrent())
	}
}

func TestRun_CancelledWhileWaitingForDevice(t *testing.T) {
	mock := capture.NewMock()
	release := make(chan struct{})
	pulling := make(chan struct{}, 1)
	mock.ReadFunc = func(n int) (image.Image, error) {
		if n == 0 {
			pulling <- struct{}{}
			<-release
		}
		return nil, capture.ErrEndOfStream
	}

	settings := camera.NewManager()
	done := make(chan error, 1)
	go func() {
		_, err := New(mock, settings, WithLogger(quiet), WithDeviceIndex(9)).Run(context.Background(), func(Frame) {})
		done <- err
	}()
	<-pulling

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	waiter := New(mock, settings, WithLogger(quiet), WithDeviceIndex(9))
	outcome, err := waiter.Run(ctx, func(Frame) {})
	if err != nil || outcome != OutcomeCancelled {
		t.Errorf("waiting Run() = %v, %v; want cancelled, nil", outcome, err)
	}
	if mock.Opens() != 1 {
		t.Errorf("Opens() = %d, want 1", mock.Opens())
	}
	if waiter.State() != StateClosed {
		t.Errorf("waiter State() = %v, want closed", waiter.State())
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("holder Run() error = %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_StallWarning(t *testing.T) {
	mock := capture.NewMock()
	mock.ReadFunc = func(n int) (image.Image, error) {
		if n == 0 {
			time.Sleep(50 * time.Millisecond)
			return image.NewGray(image.Rect(0, 0, 1, 1)), nil
		}
		return nil, capture.ErrEndOfStream
	}

	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	s := New(mock, camera.NewManager(), WithLogger(logger), WithStallWarning(5*time.Millisecond))
	outcome, err := s.Run(context.Background(), func(Frame) {})
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("Run() = %v, %v", outcome, err)
	}
	if !strings.Contains(out.String(), "frame pull stalled") {
		t.Errorf("no stall warning logged:\n%s", out.String())
	}
}

func TestFrame_Quaternion(t *testing.T) {
	f := Frame{Orientation: [4]uint16{16384, 0xC000, 8192, 0}}
	q := f.Quaternion()
	want := [4]float64{1, -1, 0.5, 0}
	if q != want {
		t.Errorf("Quaternion() = %v, want %v", q, want)
	}
}

func TestFrame_Metadata(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	f := Frame{
		Index:       4,
		Timestamp:   at,
		Image:       image.NewGray(image.Rect(0, 0, 16, 8)),
		Orientation: [4]uint16{16384, 0, 0, 0},
	}

	meta := f.Metadata()
	if meta.Index != 4 || meta.CapturedAt != 1700000000123 || meta.Width != 16 || meta.Height != 8 {
		t.Errorf("Metadata() = %+v", meta)
	}
	if meta.Quaternion[0] != 1 {
		t.Errorf("Quaternion w = %v, want 1", meta.Quaternion[0])
	}

	data, err := f.JPEG(0)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("JPEG() produced undecodable data: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("decoded width = %d, want 16", img.Bounds().Dx())
	}

	if _, err := (Frame{}).JPEG(80); err == nil {
		t.Error("JPEG() without image should fail")
	}
}
