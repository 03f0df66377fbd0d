// Package engine runs one timed interview session: it walks the user through
// the question sequence, submits each answer once, and guarantees the session
// is finalized exactly once, by the user or by the deadline.
//
// All controller state is owned by a single goroutine. User commands, timer
// ticks and network results are delivered to it over channels and applied in
// order, so the timeout and a user action can never interleave inside a
// transition.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/countdown"
	"github.com/stemsi/interview-engine/internal/model"
	"github.com/stemsi/interview-engine/internal/submission"
)

type reply func(error)

type command struct {
	run   func(c *Controller, done reply)
	reply chan error
}

type tickEvent struct {
	tick countdown.Tick
}

type submitDone struct {
	op  *pendingSubmit
	err error
}

type finalizeDone struct {
	attempt int
	autoQID model.ID
	autoErr error
	summary *model.CompletionSummary
	err     error
}

// pendingSubmit is the in-flight submission started by Advance. Its pointer
// identity is the stale-result guard: a result whose op is no longer
// c.pending is dropped.
type pendingSubmit struct {
	questionID model.ID
	position   int
	sub        submission.Submission
	waiters    []reply
}

// Controller is the session state machine. Create it with New, run it with
// Start and stop it with Close.
type Controller struct {
	sessionID model.ID
	instance  uuid.UUID
	loader    Loader
	sink      Sink
	opts      options
	log       zerolog.Logger

	cmds   chan command
	events chan any
	loaded chan struct{}
	done   chan struct{}

	started   atomic.Bool
	runCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	view      atomic.Pointer[View]

	// Owned by the run goroutine.
	state     State
	session   model.Session
	questions []model.Question
	index     map[model.ID]int
	position  int
	cache     *answer.Cache
	coord     *submission.Coordinator
	timer     *countdown.Countdown
	lastTick  countdown.Tick
	shownAt   map[model.ID]time.Time
	pending   *pendingSubmit
	trigger   Trigger
	lastErr   error

	finalAttempt  int
	finalInFlight bool
	finalErr      error
	finalWaiters  []reply
	summary       *model.CompletionSummary
}

// New creates a controller for sessionID. Nothing happens until Start.
func New(sessionID model.ID, loader Loader, sink Sink, opts ...Option) *Controller {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		sessionID: sessionID,
		instance:  uuid.New(),
		loader:    loader,
		sink:      sink,
		opts:      o,
		cmds:      make(chan command),
		events:    make(chan any, 16),
		loaded:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateLoading,
	}
	c.log = o.log.With().
		Str("session_id", sessionID.String()).
		Str("instance_id", c.instance.String()).
		Logger()
	c.storeView()
	return c
}

// SessionID returns the session this controller drives.
func (c *Controller) SessionID() model.ID {
	return c.sessionID
}

// InstanceID identifies this controller instance in logs and the journal.
func (c *Controller) InstanceID() uuid.UUID {
	return c.instance
}

// Start loads the session and begins the countdown in a new goroutine. The
// controller runs until it reaches a terminal state, Close is called, or ctx
// is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.runCtx, c.cancel = context.WithCancel(ctx)
	go c.run(c.runCtx)
	return nil
}

// Loaded is closed once loading has finished, successfully or not.
func (c *Controller) Loaded() <-chan struct{} {
	return c.loaded
}

// Done is closed when the controller goroutine has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// View returns the latest snapshot. It never blocks.
func (c *Controller) View() View {
	return *c.view.Load()
}

// Close tears the session down without finalizing it. Drafts are destroyed.
// A completion call already in flight is allowed to finish on the server.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// SetAnswer replaces the draft for the current question. For
// multiple_choice questions d.Option is used, for free_text d.Text.
func (c *Controller) SetAnswer(ctx context.Context, questionID model.ID, d answer.Draft) error {
	return c.exec(ctx, func(c *Controller, done reply) {
		done(c.setAnswer(questionID, d))
	})
}

// Advance submits the current question if needed and moves to the next one.
// A second Advance while the first is still submitting joins it.
func (c *Controller) Advance(ctx context.Context) error {
	return c.exec(ctx, func(c *Controller, done reply) {
		c.advance(done)
	})
}

// Back moves to the previous question without touching submission state.
func (c *Controller) Back(ctx context.Context) error {
	return c.exec(ctx, func(c *Controller, done reply) {
		done(c.back())
	})
}

// Complete finalizes the session. It returns once the completion call has
// finished. Calling it again, or racing it with the deadline, never issues a
// second completion call.
func (c *Controller) Complete(ctx context.Context) error {
	if c.View().State == StateCompleted {
		return nil
	}
	err := c.exec(ctx, func(c *Controller, done reply) {
		c.complete(done)
	})
	return c.settled(err)
}

// RetryCompletion repeats a failed completion call. It is a no-op on a
// completed session.
func (c *Controller) RetryCompletion(ctx context.Context) error {
	if c.View().State == StateCompleted {
		return nil
	}
	err := c.exec(ctx, func(c *Controller, done reply) {
		c.retryCompletion(done)
	})
	return c.settled(err)
}

// settled hides ErrSessionClosed when the session completed while the
// command was queued.
func (c *Controller) settled(err error) error {
	if errors.Is(err, ErrSessionClosed) && c.View().State == StateCompleted {
		return nil
	}
	return err
}

func (c *Controller) exec(ctx context.Context, run func(*Controller, reply)) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	cmd := command{run: run, reply: make(chan error, 1)}

	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// once wraps a reply channel so it is written at most once. Only the run
// goroutine calls it.
func once(ch chan error) reply {
	sent := false
	return func(err error) {
		if sent {
			return
		}
		sent = true
		ch <- err
	}
}

// post delivers an event to the run goroutine unless it has stopped.
func (c *Controller) post(ctx context.Context, ev any) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	c.load(ctx)
	close(c.loaded)
	if c.state.Terminal() {
		c.teardown()
		return
	}

	if c.timer != nil {
		go c.timer.Run(ctx, func(t countdown.Tick) {
			c.post(ctx, tickEvent{tick: t})
		})
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Str("state", string(c.state)).Msg("Session torn down")
			c.teardown()
			return
		case cmd := <-c.cmds:
			cmd.run(c, once(cmd.reply))
		case ev := <-c.events:
			c.handle(ev)
		}

		if c.state.Terminal() {
			c.teardown()
			return
		}
	}
}

func (c *Controller) load(ctx context.Context) {
	snap, err := c.loader.LoadSession(ctx, c.sessionID)
	if err == nil && snap == nil {
		err = errors.New("empty session snapshot")
	}
	if err == nil {
		snap.Normalize()
		err = snap.Validate()
	}
	if err != nil {
		c.abort(err)
		return
	}

	c.session = snap.Session
	c.questions = snap.Questions
	c.index = make(map[model.ID]int, len(c.questions))
	c.shownAt = make(map[model.ID]time.Time, len(c.questions))
	for i, q := range c.questions {
		c.index[q.ID] = i
	}
	c.cache = answer.NewCache(c.questions)
	c.coord = submission.NewCoordinator(c.sessionID, c.sink, c.opts.profile,
		submission.WithClock(c.opts.now),
		submission.WithLogger(c.log),
		submission.WithRecordHook(func(r submission.Record) {
			c.journal(model.JournalAnswerSubmitted, r.QuestionID, r.Payload, nil)
		}),
	)

	seeded := 0
	for _, q := range c.questions {
		if !c.coord.Seed(q) {
			continue
		}
		c.cache.Set(q.ID, draftFromSubmitted(q))
		seeded++
	}

	restored := 0
	if c.opts.drafts != nil {
		drafts, err := c.opts.drafts.LoadDrafts(ctx, c.sessionID)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to load mirrored drafts")
		} else {
			restored = c.cache.Restore(drafts)
		}
	}

	c.journal(model.JournalSessionLoaded, "", map[string]any{
		"questions": len(c.questions),
		"seeded":    seeded,
		"restored":  restored,
		"status":    c.session.Status,
	}, nil)

	if c.session.Completed() {
		c.state = StateCompleted
		c.trigger = TriggerServer
		c.log.Info().Msg("Session already completed at load")
		c.publish()
		return
	}

	c.timer = countdown.New(c.session.EndsAt,
		countdown.WithClock(c.opts.now),
		countdown.WithInterval(c.opts.tick),
		countdown.WithLogger(c.log),
	)
	c.lastTick = c.timer.Peek(c.opts.now())
	if !c.timer.Valid() {
		anomaly := &Error{Kind: KindTimer, Err: errors.New("deadline missing or unparseable: " + c.session.EndsAt)}
		c.journal(model.JournalTimerAnomaly, "", nil, anomaly)
		c.emit(Event{Type: EventError, Err: anomaly})
	}

	c.state = StateActive
	c.moveTo(0)
	c.log.Info().
		Int("questions", len(c.questions)).
		Int("seeded", seeded).
		Int("restored", restored).
		Msg("Session loaded")
	c.publish()
}

func (c *Controller) abort(err error) {
	c.state = StateAborted
	c.lastErr = &Error{Kind: KindLoad, Err: err}
	c.log.Error().Err(err).Msg("Session load failed")
	c.journal(model.JournalSessionAborted, "", nil, err)
	c.emit(Event{Type: EventError, Err: c.lastErr})
	c.publish()
}

// teardown answers every waiter, reports the close and destroys drafts.
func (c *Controller) teardown() {
	if c.pending != nil {
		for _, w := range c.pending.waiters {
			w(ErrSessionClosed)
		}
		c.pending = nil
	}
	for _, w := range c.finalWaiters {
		w(ErrSessionClosed)
	}
	c.finalWaiters = nil

	if c.coord != nil {
		c.coord.Close()
	}
	c.publish()
	c.opts.recorder.SessionClosed(c.sessionID, c.state == StateCompleted)
	if c.cache != nil {
		c.cache.Reset()
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case tickEvent:
		c.onTick(ev.tick)
	case submitDone:
		c.onSubmitDone(ev)
	case finalizeDone:
		c.onFinalizeDone(ev)
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func (c *Controller) current() model.Question {
	return c.questions[c.position]
}

func (c *Controller) moveTo(i int) {
	c.position = i
	q := c.questions[i]
	c.cache.Visit(q.ID)
	// Restored drafts are already visited; timing starts at first display.
	if _, ok := c.shownAt[q.ID]; !ok {
		c.shownAt[q.ID] = c.opts.now()
	}
}

func (c *Controller) setAnswer(id model.ID, d answer.Draft) error {
	if c.state != StateActive {
		return ErrSessionClosed
	}
	i, ok := c.index[id]
	if !ok {
		return validation(id, ErrUnknownQuestion)
	}
	if i != c.position {
		return validation(id, ErrNotCurrentQuestion)
	}
	if c.coord.IsSubmitted(id) {
		return validation(id, ErrReadOnly)
	}
	if c.pending != nil && c.pending.questionID == id {
		return ErrNavigationPending
	}

	q := c.questions[i]
	switch q.Kind {
	case model.QuestionKindMultipleChoice:
		if d.Option != nil && (*d.Option < 0 || *d.Option >= len(q.Options)) {
			return validation(id, ErrInvalidOption)
		}
		d = answer.Draft{Option: d.Option}
	default:
		d = answer.Draft{Text: d.Text}
	}

	c.cache.Set(id, d)
	c.opts.recorder.DraftChanged(c.sessionID, id, d)
	c.lastErr = nil
	c.publish()
	return nil
}

func (c *Controller) advance(done reply) {
	if c.state != StateActive {
		done(ErrSessionClosed)
		return
	}
	q := c.current()

	if c.pending != nil {
		if c.pending.questionID == q.ID {
			c.pending.waiters = append(c.pending.waiters, done)
			return
		}
		done(ErrNavigationPending)
		return
	}
	if c.position == len(c.questions)-1 {
		done(validation(q.ID, ErrNoNextQuestion))
		return
	}

	if c.coord.IsSubmitted(q.ID) {
		c.moveTo(c.position + 1)
		c.lastErr = nil
		c.publish()
		done(nil)
		return
	}

	draft, _ := c.cache.Get(q.ID)
	if !c.cache.IsAnswered(q.ID) && c.opts.profile.RequiresAnswer(q.Kind) {
		c.fail(validation(q.ID, ErrAnswerRequired), done)
		return
	}
	if _, err := submission.BuildPayload(q, draft, c.opts.profile); err != nil {
		if errors.Is(err, submission.ErrEmptyAnswer) {
			err = ErrAnswerRequired
		}
		c.fail(validation(q.ID, err), done)
		return
	}

	sub := submission.Submission{Question: q, Draft: draft, Elapsed: c.elapsed(q.ID)}
	op := &pendingSubmit{
		questionID: q.ID,
		position:   c.position,
		sub:        sub,
		waiters:    []reply{done},
	}
	c.pending = op
	c.publish()

	ctx := c.runCtx
	go func() {
		_, err := c.coord.Submit(ctx, sub)
		c.post(ctx, submitDone{op: op, err: err})
	}()
}

func (c *Controller) onSubmitDone(ev submitDone) {
	if ev.op != c.pending || c.state != StateActive {
		c.log.Debug().
			Str("question_id", ev.op.questionID.String()).
			Msg("Discarding stale submission result")
		return
	}
	c.pending = nil
	waiters := ev.op.waiters

	if ev.err != nil {
		err := &Error{Kind: KindSubmission, QuestionID: ev.op.questionID, Err: ev.err}
		c.journal(model.JournalSubmissionFailed, ev.op.questionID, nil, ev.err)
		c.lastErr = err
		c.emit(Event{Type: EventError, Err: err})
		c.publish()
		for _, w := range waiters {
			w(err)
		}
		return
	}

	c.lastErr = nil
	if c.position == ev.op.position && c.position < len(c.questions)-1 {
		c.moveTo(c.position + 1)
	}
	c.publish()
	for _, w := range waiters {
		w(nil)
	}
}

func (c *Controller) back() error {
	if c.state != StateActive {
		return ErrSessionClosed
	}
	if c.pending != nil {
		return ErrNavigationPending
	}
	if c.position == 0 {
		return validation(c.current().ID, ErrNoPreviousQuestion)
	}
	c.moveTo(c.position - 1)
	c.lastErr = nil
	c.publish()
	return nil
}

func (c *Controller) complete(done reply) {
	switch c.state {
	case StateCompleted:
		done(nil)
	case StateFinalizing:
		if c.finalInFlight {
			c.finalWaiters = append(c.finalWaiters, done)
			return
		}
		done(c.finalErr)
	case StateActive:
		c.beginFinalize(TriggerUser, done)
	default:
		done(ErrSessionClosed)
	}
}

func (c *Controller) retryCompletion(done reply) {
	switch c.state {
	case StateCompleted:
		done(nil)
	case StateFinalizing:
		c.finalWaiters = append(c.finalWaiters, done)
		if c.finalInFlight {
			return
		}
		c.log.Info().Int("attempt", c.finalAttempt+1).Msg("Retrying session completion")
		c.callComplete(nil, c.completeRequest())
	default:
		done(ErrNothingToRetry)
	}
}

func (c *Controller) onTick(t countdown.Tick) {
	c.lastTick = t
	if t.Timeout && c.state == StateActive {
		c.log.Info().Int("position", c.position).Msg("Deadline reached, forcing completion")
		c.beginFinalize(TriggerTimeout, nil)
		return
	}
	tick := t
	c.emit(Event{Type: EventTick, View: c.buildView(), Tick: &tick})
	c.storeView()
}

// beginFinalize is the finalization latch: it is the only way out of
// StateActive and runs at most once per controller.
func (c *Controller) beginFinalize(trigger Trigger, done reply) {
	c.state = StateFinalizing
	c.trigger = trigger

	// A submission still in flight is joined, so completion waits for it.
	var auto *submission.Submission
	if c.pending != nil {
		joined := c.pending.sub
		auto = &joined
		for _, w := range c.pending.waiters {
			w(ErrSessionClosed)
		}
		c.pending = nil
	}
	if done != nil {
		c.finalWaiters = append(c.finalWaiters, done)
	}

	req := c.completeRequest()
	c.journal(model.JournalFinalizing, "", map[string]any{
		"trigger":          trigger,
		"position":         c.position,
		"early_completion": req.EarlyCompletion != nil && *req.EarlyCompletion,
	}, nil)

	// Best effort: the current answer is sent first if it is answered and
	// unsubmitted. Its failure never blocks completion.
	q := c.current()
	if auto == nil && !c.coord.IsSubmitted(q.ID) && c.cache.IsAnswered(q.ID) {
		draft, _ := c.cache.Get(q.ID)
		auto = &submission.Submission{Question: q, Draft: draft, Elapsed: c.elapsed(q.ID)}
	}
	c.callComplete(auto, req)
}

func (c *Controller) completeRequest() model.CompleteRequest {
	if c.trigger == TriggerUser && c.position < len(c.questions)-1 {
		early := true
		return model.CompleteRequest{EarlyCompletion: &early}
	}
	return model.CompleteRequest{}
}

func (c *Controller) callComplete(auto *submission.Submission, req model.CompleteRequest) {
	c.finalAttempt++
	c.finalInFlight = true
	c.finalErr = nil
	attempt := c.finalAttempt
	c.publish()

	ctx := c.runCtx
	// The completion call outlives Close so the server still sees it.
	callCtx := context.WithoutCancel(ctx)
	go func() {
		ev := finalizeDone{attempt: attempt}
		if auto != nil {
			ev.autoQID = auto.Question.ID
			_, ev.autoErr = c.coord.Submit(callCtx, *auto)
		}
		ev.summary, ev.err = c.sink.CompleteSession(callCtx, c.sessionID, req)
		c.post(ctx, ev)
	}()
}

func (c *Controller) onFinalizeDone(ev finalizeDone) {
	if ev.attempt != c.finalAttempt || c.state != StateFinalizing {
		c.log.Debug().Int("attempt", ev.attempt).Msg("Discarding stale completion result")
		return
	}
	c.finalInFlight = false

	if ev.autoQID != "" && ev.autoErr != nil {
		c.log.Warn().Err(ev.autoErr).Str("question_id", ev.autoQID.String()).
			Msg("Auto-submit before completion failed, completing anyway")
		c.journal(model.JournalSubmissionFailed, ev.autoQID, nil, ev.autoErr)
	}

	err := ev.err
	if err != nil && errors.Is(err, model.ErrSessionAlreadyCompleted) {
		c.log.Info().Msg("Completion reported already completed, treating as success")
		err = nil
	}
	if err != nil {
		ferr := &Error{Kind: KindFinalization, Err: err}
		c.finalErr = ferr
		c.lastErr = ferr
		c.log.Error().Err(err).Int("attempt", ev.attempt).Msg("Session completion failed")
		c.journal(model.JournalFinalizationFailed, "", map[string]any{"attempt": ev.attempt}, err)
		c.emit(Event{Type: EventError, Err: ferr})
		c.publish()
		c.replyFinal(ferr)
		return
	}

	c.state = StateCompleted
	c.summary = ev.summary
	c.lastErr = nil
	c.log.Info().Str("trigger", string(c.trigger)).Int("attempt", ev.attempt).Msg("Session completed")
	c.journal(model.JournalSessionCompleted, "", ev.summary, nil)
	c.publish()
	c.replyFinal(nil)
}

func (c *Controller) replyFinal(err error) {
	for _, w := range c.finalWaiters {
		w(err)
	}
	c.finalWaiters = nil
}

func (c *Controller) fail(err error, done reply) {
	c.lastErr = err
	c.emit(Event{Type: EventError, Err: err})
	c.publish()
	done(err)
}

func (c *Controller) elapsed(id model.ID) time.Duration {
	shown, ok := c.shownAt[id]
	if !ok {
		return 0
	}
	return c.opts.now().Sub(shown)
}

// ---------------------------------------------------------------------------
// Views and reporting
// ---------------------------------------------------------------------------

func (c *Controller) buildView() View {
	v := View{
		SessionID:   c.sessionID,
		InstanceID:  c.instance,
		State:       c.state,
		SessionType: c.session.Type,
		Difficulty:  c.session.Difficulty,
		Position:    c.position,
		Total:       len(c.questions),
		Pending:     c.pending != nil || c.finalInFlight,
		Trigger:     c.trigger,
		Summary:     c.summary,
	}
	if c.coord != nil {
		v.Submitted = c.coord.Submitted()
	}
	if c.timer != nil {
		v.RemainingSeconds = c.lastTick.Seconds
		v.Band = c.lastTick.Band
		v.TimerNeutral = c.lastTick.Neutral
	}
	if c.lastErr != nil {
		v.LastError = c.lastErr.Error()
		v.LastErrorKind = KindOf(c.lastErr)
	}
	v.CanRetryCompletion = c.state == StateFinalizing && c.finalErr != nil && !c.finalInFlight

	if (c.state == StateActive || c.state == StateFinalizing) && len(c.questions) > 0 {
		q := c.current()
		draft, _ := c.cache.Get(q.ID)
		submitted := c.coord.IsSubmitted(q.ID)
		v.Question = &QuestionView{
			ID:             q.ID,
			Kind:           q.Kind,
			Prompt:         q.Prompt,
			Options:        q.Options,
			SelectedOption: draft.Option,
			AnswerText:     draft.Text,
			Answered:       c.cache.IsAnswered(q.ID),
			Submitted:      submitted,
			ReadOnly:       submitted || c.state != StateActive,
		}
	}
	return v
}

func (c *Controller) storeView() {
	v := c.buildView()
	c.view.Store(&v)
}

// publish stores the current view and emits a state event.
func (c *Controller) publish() {
	v := c.buildView()
	c.view.Store(&v)
	c.opts.listener(Event{Type: EventState, View: v})
}

func (c *Controller) emit(ev Event) {
	if ev.View.SessionID == "" {
		ev.View = c.buildView()
	}
	c.opts.listener(ev)
}

func (c *Controller) journal(typ model.JournalEventType, qid model.ID, payload any, err error) {
	ev := model.JournalEvent{
		ID:         uuid.New(),
		SessionID:  c.sessionID,
		InstanceID: c.instance,
		Type:       typ,
		QuestionID: qid,
		OccurredAt: c.opts.now().UTC(),
	}
	if payload != nil {
		if raw, merr := json.Marshal(payload); merr == nil {
			ev.Payload = raw
		}
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.opts.recorder.Record(ev)
}

// draftFromSubmitted rebuilds the draft a resumed question was answered with.
func draftFromSubmitted(q model.Question) answer.Draft {
	sa := q.SubmittedAnswer
	switch q.Kind {
	case model.QuestionKindMultipleChoice:
		if sa.SelectedOption != nil {
			if i, ok := q.OptionIndex(*sa.SelectedOption); ok {
				return answer.OptionDraft(i)
			}
		}
		return answer.Draft{}
	default:
		if sa.AnswerText != nil {
			return answer.TextDraft(*sa.AnswerText)
		}
		return answer.Draft{}
	}
}
