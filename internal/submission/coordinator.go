// Package submission sends answers to the remote sink exactly once per
// question and keeps the immutable record of what was sent.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/model"
)

var (
	ErrEmptyAnswer      = errors.New("answer is empty")
	ErrOptionOutOfRange = errors.New("selected option out of range")
	ErrUnknownKind      = errors.New("unsupported question kind")
	ErrClosed           = errors.New("submissions closed")
)

// Sink delivers one answer payload. Any nil error means the API accepted it.
type Sink interface {
	SubmitAnswer(ctx context.Context, sessionID model.ID, p model.AnswerPayload) error
}

// Profile describes the payload differences between interview flavours.
type Profile struct {
	// ChoiceTextNullable sends answer_text as null for multiple_choice
	// answers. When false an empty string is sent instead.
	ChoiceTextNullable bool
	// TrimFreeText strips surrounding whitespace from free text before
	// sending it.
	TrimFreeText bool
	// AllowEmptyFreeText lets free_text questions be submitted (and advanced
	// past) without an answer.
	AllowEmptyFreeText bool
}

// DefaultProfile matches the current interview API.
var DefaultProfile = Profile{ChoiceTextNullable: true}

// RequiresAnswer reports whether a question of kind must be answered before
// it can be submitted.
func (p Profile) RequiresAnswer(kind model.QuestionKind) bool {
	if kind == model.QuestionKindFreeText {
		return !p.AllowEmptyFreeText
	}
	return true
}

// BuildPayload converts a draft into the wire payload for q.
// multiple_choice sends the option text, never its index.
func BuildPayload(q model.Question, d answer.Draft, profile Profile) (model.AnswerPayload, error) {
	p := model.AnswerPayload{QuestionID: q.ID}

	switch q.Kind {
	case model.QuestionKindMultipleChoice:
		if d.Option == nil || *d.Option < 0 {
			return p, ErrEmptyAnswer
		}
		if *d.Option >= len(q.Options) {
			return p, fmt.Errorf("%w: %d of %d", ErrOptionOutOfRange, *d.Option, len(q.Options))
		}
		opt := q.Options[*d.Option]
		p.SelectedOptionText = &opt
		if !profile.ChoiceTextNullable {
			empty := ""
			p.AnswerText = &empty
		}
	case model.QuestionKindFreeText:
		text := d.Text
		if profile.TrimFreeText {
			text = strings.TrimSpace(text)
		}
		if strings.TrimSpace(text) == "" && !profile.AllowEmptyFreeText {
			return p, ErrEmptyAnswer
		}
		p.AnswerText = &text
	default:
		return p, fmt.Errorf("%w: %q", ErrUnknownKind, q.Kind)
	}
	return p, nil
}

// Submission is one request to send the answer for Question.
type Submission struct {
	Question model.Question
	Draft    answer.Draft
	// Elapsed is how long the question was on screen. Zero omits
	// time_taken_seconds.
	Elapsed time.Duration
}

// Record is the immutable result of a successful submission. Seeded records
// come from a resumed session and were never sent by this process.
type Record struct {
	QuestionID  model.ID
	Payload     model.AnswerPayload
	SubmittedAt time.Time
	Seeded      bool
}

func (r Record) clone() Record {
	r.Payload = r.Payload.Clone()
	return r
}

// Result is what Submit returns. Duplicate is set when the question had
// already been submitted and nothing was sent. Coalesced is set when the call
// joined a submission already in flight.
type Result struct {
	Record    Record
	Duplicate bool
	Coalesced bool
}

// Coordinator tracks the submitted state of every question in one session.
// Submitted state is monotonic: once recorded, a question is never sent again.
type Coordinator struct {
	sessionID model.ID
	sink      Sink
	profile   Profile
	now       func() time.Time
	log       zerolog.Logger
	onRecord  func(Record)

	inflight singleflight.Group

	mu      sync.RWMutex
	records map[model.ID]Record
	closed  bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithRecordHook registers fn to run once for every answer this coordinator
// sends successfully. Seeded records do not trigger it. fn runs on the
// submitting goroutine.
func WithRecordHook(fn func(Record)) Option {
	return func(c *Coordinator) {
		c.onRecord = fn
	}
}

// NewCoordinator creates a coordinator for sessionID.
func NewCoordinator(sessionID model.ID, sink Sink, profile Profile, opts ...Option) *Coordinator {
	c := &Coordinator{
		sessionID: sessionID,
		sink:      sink,
		profile:   profile,
		now:       time.Now,
		log:       zerolog.Nop(),
		records:   make(map[model.ID]Record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed marks q as submitted from the answer the API already holds. It reports
// false when q carries no prior answer or is already recorded.
func (c *Coordinator) Seed(q model.Question) bool {
	if q.SubmittedAnswer == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[q.ID]; ok {
		return false
	}
	p := model.AnswerPayload{
		QuestionID:         q.ID,
		AnswerText:         q.SubmittedAnswer.AnswerText,
		SelectedOptionText: q.SubmittedAnswer.SelectedOption,
	}
	c.records[q.ID] = Record{
		QuestionID:  q.ID,
		Payload:     p.Clone(),
		SubmittedAt: c.now(),
		Seeded:      true,
	}
	return true
}

// Close freezes the submission map. Later Submit calls send nothing, and a
// call still in flight no longer records its result.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// IsSubmitted reports whether id has a submission record.
func (c *Coordinator) IsSubmitted(id model.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.records[id]
	return ok
}

// Record returns a copy of the submission record for id.
func (c *Coordinator) Record(id model.ID) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Submitted returns the number of recorded questions.
func (c *Coordinator) Submitted() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

type outcome struct {
	record    Record
	duplicate bool
}

// Submit sends the answer for s.Question unless it was already submitted.
// Concurrent calls for the same question share one network call. On failure
// the question stays unsubmitted and the error is returned unchanged; there
// is no automatic retry.
func (c *Coordinator) Submit(ctx context.Context, s Submission) (Result, error) {
	if r, ok := c.Record(s.Question.ID); ok {
		return Result{Record: r, Duplicate: true}, nil
	}

	payload, err := BuildPayload(s.Question, s.Draft, c.profile)
	if err != nil {
		return Result{}, err
	}
	if s.Elapsed > 0 {
		secs := int(s.Elapsed.Round(time.Second) / time.Second)
		payload.TimeTakenSeconds = &secs
	}

	v, err, shared := c.inflight.Do(string(s.Question.ID), func() (any, error) {
		if r, ok := c.Record(s.Question.ID); ok {
			return outcome{record: r, duplicate: true}, nil
		}
		if c.isClosed() {
			return nil, ErrClosed
		}

		if err := c.sink.SubmitAnswer(ctx, c.sessionID, payload); err != nil {
			c.log.Warn().
				Err(err).
				Str("session_id", c.sessionID.String()).
				Str("question_id", s.Question.ID.String()).
				Msg("Answer submission failed")
			return nil, err
		}

		rec := Record{
			QuestionID:  s.Question.ID,
			Payload:     payload.Clone(),
			SubmittedAt: c.now(),
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			c.log.Warn().
				Str("session_id", c.sessionID.String()).
				Str("question_id", s.Question.ID.String()).
				Msg("Submission finished after close, not recorded")
			return nil, ErrClosed
		}
		c.records[s.Question.ID] = rec
		c.mu.Unlock()
		if c.onRecord != nil {
			c.onRecord(rec.clone())
		}

		c.log.Debug().
			Str("session_id", c.sessionID.String()).
			Str("question_id", s.Question.ID.String()).
			Msg("Answer submitted")
		return outcome{record: rec}, nil
	})
	if err != nil {
		return Result{Coalesced: shared}, err
	}

	out := v.(outcome)
	return Result{Record: out.record.clone(), Duplicate: out.duplicate, Coalesced: shared}, nil
}
