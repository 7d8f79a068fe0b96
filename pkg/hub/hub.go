// Package hub shares one capture session between any number of subscribers.
//
// The first subscriber starts a session; later subscribers join it and see
// frames from the moment they attach. When the last subscriber leaves, the
// session is cancelled and forgotten, so the next subscriber starts a fresh
// one with a full device bring-up.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-miniscope/pkg/session"
)

var (
	// ErrHubClosed is returned by Subscribe after Close.
	ErrHubClosed = errors.New("hub: closed")

	// ErrEnded is returned by Subscription.Next when the stream ended
	// without an error.
	ErrEnded = errors.New("hub: stream ended")
)

// Runner is one capture session. *session.Session implements it.
type Runner interface {
	Run(ctx context.Context, emit func(session.Frame)) (session.Outcome, error)
	State() session.State

	// Ended reports that the session has begun shutting down and will emit
	// no more frames.
	Ended() bool
}

// Factory creates a fresh Runner for each session.
type Factory func() Runner

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub is a reference-counted, reconnectable frame broadcast.
type Hub struct {
	// Name for logging
	name    string
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	current *run
	closed  bool
	last    result

	workers  sync.WaitGroup
	sessions atomic.Uint64
	frames   atomic.Uint64
}

// run is one session and the subscribers attached to it.
type run struct {
	id     uint64
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by Hub.mu; in attach order.
	subs []*Subscription
}

type result struct {
	outcome session.Outcome
	err     error
	ended   bool
}

// New creates a hub that starts sessions from factory.
func New(name string, factory Factory, opts ...Option) *Hub {
	h := &Hub{
		name:    name,
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub", "hub", name)
	return h
}

// Subscribe attaches a new subscriber, starting a session if none is active.
func (h *Hub) Subscribe(opts ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if h.current != nil && h.current.runner.Ended() {
		// The old run finishes its own subscribers when Run returns.
		h.logger.Debug("session ending, starting another", "session", h.current.id)
		h.current = nil
	}
	if h.current == nil {
		h.current = h.start()
	}

	sub := newSubscription(h, h.current, cfg.buffer)
	h.current.subs = append(h.current.subs, sub)
	h.logger.Info("subscriber attached", "subscription", sub.id, "session", h.current.id, "subscribers", len(h.current.subs))
	return sub, nil
}

// start launches a new session. Callers hold h.mu.
func (h *Hub) start() *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     h.sessions.Add(1),
		runner: h.factory(),
		ctx:    ctx,
		cancel: cancel,
	}

	h.workers.Add(1)
	go h.work(r)

	h.logger.Info("session starting", "session", r.id)
	return r
}

// work runs a session to completion and then ends its remaining
// subscriptions.
func (h *Hub) work(r *run) {
	defer h.workers.Done()
	defer r.cancel()

	outcome, err := r.runner.Run(r.ctx, func(f session.Frame) {
		h.broadcast(r, f)
	})

	h.mu.Lock()
	if h.current == r {
		h.current = nil
	}
	subs := r.subs
	r.subs = nil
	h.last = result{outcome: outcome, err: err, ended: true}
	h.mu.Unlock()

	end := result{outcome: outcome, ended: true}
	if outcome == session.OutcomeFailed {
		end.err = err
	}
	for _, sub := range subs {
		sub.finish(end)
	}

	if err != nil {
		h.logger.Error("session ended", "session", r.id, "outcome", outcome, "error", err, "subscribers", len(subs))
	} else {
		h.logger.Info("session ended", "session", r.id, "outcome", outcome, "subscribers", len(subs))
	}
}

// broadcast hands f to every subscriber attached to r, in attach order.
// It blocks until each one has taken the frame or detached.
func (h *Hub) broadcast(r *run, f session.Frame) {
	h.mu.Lock()
	subs := make([]*Subscription, len(r.subs))
	copy(subs, r.subs)
	h.mu.Unlock()

	h.frames.Add(1)
	for _, sub := range subs {
		sub.deliver(r.ctx, f)
	}
}

// detach removes sub from its session. Removing the last subscriber
// cancels the session and clears it so the next Subscribe starts afresh.
func (h *Hub) detach(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := sub.run
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			break
		}
	}
	h.logger.Info("subscriber detached", "subscription", sub.id, "session", r.id, "subscribers", len(r.subs))

	if len(r.subs) == 0 && h.current == r {
		h.current = nil
		r.cancel()
		h.logger.Info("last subscriber left, stopping session", "session", r.id)
	}
}

// Close stops the active session, waits for every session goroutine to
// finish and rejects further subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	r := h.current
	h.current = nil
	h.mu.Unlock()

	if r != nil {
		r.cancel()
	}
	h.workers.Wait()
}

// ClientCount returns the number of subscribers on the active session.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return 0
	}
	return len(h.current.subs)
}

// Status is a point-in-time summary of the hub.
type Status struct {
	Name            string `json:"name"`
	Subscribers     int    `json:"subscribers"`
	SessionsStarted uint64 `json:"sessions_started"`
	FramesBroadcast uint64 `json:"frames_broadcast"`
	State           string `json:"state"`
	LastOutcome     string `json:"last_outcome,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// Status returns the hub status.
func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		Name:            h.name,
		SessionsStarted: h.sessions.Load(),
		FramesBroadcast: h.frames.Load(),
		State:           session.StateClosed.String(),
	}
	if h.current != nil {
		st.Subscribers = len(h.current.subs)
		st.State = h.current.runner.State().String()
	}
	if h.last.ended {
		st.LastOutcome = h.last.outcome.String()
		if h.last.err != nil {
			st.LastError = h.last.err.Error()
		}
	}
	return st
}
