// Package journal records what session engines do: it mirrors drafts, clears
// them once a session completes, and queues audit events for persistence and
// live monitoring.
package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/model"
)

const (
	defaultBuffer  = 256
	defaultTimeout = 3 * time.Second
)

// EventSink receives journal events. *RedisQueue satisfies it.
type EventSink interface {
	Push(ctx context.Context, ev model.JournalEvent) error
}

// DraftWriter mirrors drafts. *store.DraftStore satisfies it.
type DraftWriter interface {
	SaveDraft(ctx context.Context, sessionID, questionID model.ID, d answer.Draft) error
	ClearDrafts(ctx context.Context, sessionID model.ID) error
}

type jobKind int

const (
	jobEvent jobKind = iota
	jobDraft
	jobClosed
)

type job struct {
	kind       jobKind
	event      model.JournalEvent
	sessionID  model.ID
	questionID model.ID
	draft      answer.Draft
}

// Publisher is a non-blocking engine recorder. Calls enqueue work for a
// single background goroutine, so writes for one session keep their order.
// When the buffer is full the work is dropped and counted.
type Publisher struct {
	events  EventSink
	drafts  DraftWriter
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}

	dropped atomic.Int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBuffer sets the queue length.
func WithBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.jobs = make(chan job, n)
		}
	}
}

// WithTimeout bounds each downstream write.
func WithTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPublisher starts a Publisher. Either events or drafts may be nil to
// disable that half.
func NewPublisher(events EventSink, drafts DraftWriter, log zerolog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		events:  events,
		drafts:  drafts,
		timeout: defaultTimeout,
		log:     log.With().Str("component", "journal").Logger(),
		jobs:    make(chan job, defaultBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Record queues an audit event.
func (p *Publisher) Record(ev model.JournalEvent) {
	if p.events == nil {
		return
	}
	p.enqueue(job{kind: jobEvent, event: ev, sessionID: ev.SessionID})
}

// DraftChanged queues a draft mirror write.
func (p *Publisher) DraftChanged(sessionID, questionID model.ID, d answer.Draft) {
	if p.drafts == nil {
		return
	}
	p.enqueue(job{kind: jobDraft, sessionID: sessionID, questionID: questionID, draft: d})
}

// SessionClosed clears mirrored drafts of a completed session. Drafts of a
// session closed any other way are kept for the next attach.
func (p *Publisher) SessionClosed(sessionID model.ID, completed bool) {
	if p.drafts == nil || !completed {
		return
	}
	p.enqueue(job{kind: jobClosed, sessionID: sessionID})
}

// Dropped returns how many writes were discarded because the buffer was full
// or the publisher was closed.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops accepting work and waits until queued work is written or ctx
// expires.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) enqueue(j job) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.jobs <- j:
	default:
		n := p.dropped.Add(1)
		p.log.Warn().Str("session_id", j.sessionID.String()).Int64("dropped", n).Msg("Journal buffer full, dropping write")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for j := range p.jobs {
		p.handle(j)
	}
}

func (p *Publisher) handle(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var err error
	switch j.kind {
	case jobEvent:
		err = p.events.Push(ctx, j.event)
	case jobDraft:
		err = p.drafts.SaveDraft(ctx, j.sessionID, j.questionID, j.draft)
	case jobClosed:
		err = p.drafts.ClearDrafts(ctx, j.sessionID)
	}
	if err != nil {
		p.log.Error().Err(err).Str("session_id", j.sessionID.String()).Int("kind", int(j.kind)).Msg("Journal write failed")
	}
}
