package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-miniscope/pkg/session"
)

// SubscribeOption configures a Subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	buffer int
}

// WithBuffer sets how many frames may queue for the subscriber before the
// session blocks on it. Default 0.
func WithBuffer(n int) SubscribeOption {
	return func(c *subscribeConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// Subscription is one consumer of the shared frame stream.
type Subscription struct {
	id  uuid.UUID
	hub *Hub
	run *run

	frames   chan session.Frame
	detached chan struct{}
	once     sync.Once

	// sendMu orders deliveries against finish so frames is closed once and
	// never written after.
	sendMu   sync.Mutex
	finished bool

	errMu sync.Mutex
	end   result
}

func newSubscription(h *Hub, r *run, buffer int) *Subscription {
	return &Subscription{
		id:       uuid.New(),
		hub:      h,
		run:      r,
		frames:   make(chan session.Frame, buffer),
		detached: make(chan struct{}),
	}
}

// ID returns the subscription identifier.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Frames returns the frame channel. It is closed when the session ends or
// the subscription is closed.
func (s *Subscription) Frames() <-chan session.Frame {
	return s.frames
}

// Err returns the session error once Frames is closed. It is nil when the
// stream completed, was cancelled or the subscriber detached.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.end.err
}

// Outcome returns how the session ended. ok is false while the stream is
// live and when the subscriber closed before the session ended.
func (s *Subscription) Outcome() (outcome session.Outcome, ok bool) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.end.outcome, s.end.ended
}

// Next waits for the next frame.
func (s *Subscription) Next(ctx context.Context) (session.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			if err := s.Err(); err != nil {
				return session.Frame{}, err
			}
			return session.Frame{}, ErrEnded
		}
		return f, nil
	case <-ctx.Done():
		return session.Frame{}, ctx.Err()
	}
}

// Close detaches the subscriber. A pending delivery is abandoned. Close is
// safe to call more than once and after the stream has ended.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.detached)
		s.hub.detach(s)
		s.finish(result{})
	})
}

func (s *Subscription) deliver(ctx context.Context, f session.Frame) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.finished {
		return
	}
	select {
	case s.frames <- f:
	case <-s.detached:
	case <-ctx.Done():
	}
}

// finish closes the frame channel once. end is zero when the subscriber
// detached itself.
func (s *Subscription) finish(end result) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.finished {
		return
	}
	s.finished = true

	s.errMu.Lock()
	s.end = end
	s.errMu.Unlock()

	close(s.frames)
}
