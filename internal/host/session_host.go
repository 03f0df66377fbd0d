// Package host keeps the running session engines of this process and fans
// their events out to connected clients.
package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/client"
	"github.com/stemsi/interview-engine/internal/engine"
	"github.com/stemsi/interview-engine/internal/model"
)

const subscriberBuffer = 32

// ErrNotAttached is returned for sessions this host is not running.
var ErrNotAttached = errors.New("session not attached")

// ErrShuttingDown is returned by Attach after Shutdown has begun.
var ErrShuttingDown = errors.New("host is shutting down")

type session struct {
	ctrl *engine.Controller

	mu       sync.Mutex
	subs     map[uint64]chan engine.Event
	nextSub  uint64
	closedAt time.Time
}

// broadcast runs on the controller goroutine. Slow subscribers lose events;
// every event carries a full view so the next one resynchronises them.
func (s *session) broadcast(ev engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *session) closeSubscribers(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedAt = at
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// SessionHost is a registry of controllers keyed by session id. At most one
// live controller exists per session.
type SessionHost struct {
	loader    engine.Loader
	sink      engine.Sink
	opts      []engine.Option
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	sessions map[model.ID]*session
	closing  bool
	wg       sync.WaitGroup
}

// NewSessionHost creates a host. opts are applied to every controller it
// starts. Finished sessions stay readable for retention before being reaped.
func NewSessionHost(loader engine.Loader, sink engine.Sink, retention time.Duration, log zerolog.Logger, opts ...engine.Option) *SessionHost {
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionHost{
		loader:    loader,
		sink:      sink,
		opts:      opts,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("component", "session_host").Logger(),
		baseCtx:   ctx,
		stop:      cancel,
		sessions:  make(map[model.ID]*session),
	}
}

// Attach returns the live controller for id, starting one if none is
// running. It waits until the controller has loaded or ctx expires. created
// reports whether this call started the controller.
func (h *SessionHost) Attach(ctx context.Context, id model.ID) (ctrl *engine.Controller, created bool, err error) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil, false, ErrShuttingDown
	}
	s, ok := h.sessions[id]
	if ok && !finished(s.ctrl) {
		h.mu.Unlock()
		return s.ctrl, false, waitLoaded(ctx, s.ctrl)
	}

	s = &session{subs: make(map[uint64]chan engine.Event)}
	opts := append(append([]engine.Option(nil), h.opts...), engine.WithListener(s.broadcast))
	s.ctrl = engine.New(id, h.loader, h.sink, opts...)
	h.sessions[id] = s
	// API calls made by this controller carry the attaching request's id.
	startCtx := h.baseCtx
	if reqID := client.RequestIDFrom(ctx); reqID != "" {
		startCtx = client.WithRequestID(startCtx, reqID)
	}
	if err := s.ctrl.Start(startCtx); err != nil {
		delete(h.sessions, id)
		h.mu.Unlock()
		return nil, false, err
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go h.watch(s)
	h.log.Info().Str("session_id", id.String()).Str("instance_id", s.ctrl.InstanceID().String()).Msg("Session attached")

	return s.ctrl, true, waitLoaded(ctx, s.ctrl)
}

// Get returns the controller for id, live or recently finished.
func (h *SessionHost) Get(id model.ID) (*engine.Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, ErrNotAttached
	}
	return s.ctrl, nil
}

// Detach tears the session down without finalizing it and forgets it.
func (h *SessionHost) Detach(ctx context.Context, id model.ID) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if !ok {
		return ErrNotAttached
	}

	s.ctrl.Close()
	select {
	case <-s.ctrl.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe streams the session's events. The channel is closed when the
// controller stops or cancel is called.
func (h *SessionHost) Subscribe(id model.ID) (<-chan engine.Event, func(), error) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotAttached
	}

	ch := make(chan engine.Event, subscriberBuffer)
	s.mu.Lock()
	if !s.closedAt.IsZero() {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	subID := s.nextSub
	s.nextSub++
	s.subs[subID] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[subID]; ok {
				close(c)
				delete(s.subs, subID)
			}
		})
	}
	return ch, cancel, nil
}

// Len returns the number of sessions held, live or retained.
func (h *SessionHost) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Run reaps finished sessions until ctx is cancelled.
func (h *SessionHost) Run(ctx context.Context) {
	interval := h.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.reap()
		}
	}
}

func (h *SessionHost) reap() int {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, s := range h.sessions {
		s.mu.Lock()
		closedAt := s.closedAt
		s.mu.Unlock()
		if !closedAt.IsZero() && now.Sub(closedAt) >= h.retention {
			delete(h.sessions, id)
			n++
		}
	}
	if n > 0 {
		h.log.Debug().Int("count", n).Msg("Reaped finished sessions")
	}
	return n
}

// Shutdown stops every controller without finalizing and waits for them to
// exit. Completion calls already in flight finish on the server.
func (h *SessionHost) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.stop()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SessionHost) watch(s *session) {
	defer h.wg.Done()
	<-s.ctrl.Done()
	s.closeSubscribers(h.now())

	v := s.ctrl.View()
	h.log.Info().
		Str("session_id", v.SessionID.String()).
		Str("instance_id", v.InstanceID.String()).
		Str("state", string(v.State)).
		Msg("Session closed")
}

func finished(c *engine.Controller) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func waitLoaded(ctx context.Context, c *engine.Controller) error {
	select {
	case <-c.Loaded():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
