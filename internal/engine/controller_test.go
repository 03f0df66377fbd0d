package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/model"
	"github.com/stemsi/interview-engine/internal/submission"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeAPI struct {
	mu sync.Mutex

	snapshot *model.Snapshot
	loadErr  error

	submitErrs    []error
	submitGate    chan struct{}
	submitEntered chan struct{}
	submitted     []model.AnswerPayload
	submitCalls   int

	completeErrs    []error
	completeGate    chan struct{}
	completeEntered chan struct{}
	completeReqs    []model.CompleteRequest
}

func (f *fakeAPI) LoadSession(ctx context.Context, id model.ID) (*model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	snap := *f.snapshot
	snap.Questions = append([]model.Question(nil), f.snapshot.Questions...)
	return &snap, nil
}

func (f *fakeAPI) SubmitAnswer(ctx context.Context, sessionID model.ID, p model.AnswerPayload) error {
	f.mu.Lock()
	f.submitCalls++
	gate, entered := f.submitGate, f.submitEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return err
		}
	}
	f.submitted = append(f.submitted, p.Clone())
	return nil
}

func (f *fakeAPI) CompleteSession(ctx context.Context, id model.ID, req model.CompleteRequest) (*model.CompletionSummary, error) {
	f.mu.Lock()
	f.completeReqs = append(f.completeReqs, req)
	gate, entered := f.completeGate, f.completeEntered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.completeErrs) > 0 {
		err := f.completeErrs[0]
		f.completeErrs = f.completeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.CompletionSummary{SessionID: id, Status: model.SessionStatusCompleted}, nil
}

func (f *fakeAPI) counts() (submits, completes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, len(f.completeReqs)
}

type fakeRecorder struct {
	mu      sync.Mutex
	events  []model.JournalEventType
	drafts  map[model.ID]answer.Draft
	closed  bool
	success bool
}

func (r *fakeRecorder) Record(ev model.JournalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
}

func (r *fakeRecorder) DraftChanged(_, qid model.ID, d answer.Draft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drafts == nil {
		r.drafts = make(map[model.ID]answer.Draft)
	}
	r.drafts[qid] = d
}

func (r *fakeRecorder) SessionClosed(_ model.ID, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.success = completed
}

func (r *fakeRecorder) has(typ model.JournalEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.events {
		if t == typ {
			return true
		}
	}
	return false
}

type fakeDrafts map[model.ID]answer.Draft

func (d fakeDrafts) LoadDrafts(context.Context, model.ID) (map[model.ID]answer.Draft, error) {
	return d, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func inOneHour() string {
	return time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
}

func mcSession(n int, endsAt string) *model.Snapshot {
	snap := &model.Snapshot{
		Session: model.Session{ID: "s1", Type: "behavioral", Difficulty: "medium", EndsAt: endsAt},
	}
	for i := 1; i <= n; i++ {
		snap.Questions = append(snap.Questions, model.Question{
			ID:      model.ID(fmt.Sprintf("q%d", i)),
			Kind:    model.QuestionKindMultipleChoice,
			Prompt:  fmt.Sprintf("Question %d", i),
			Options: []string{"A", "B", "C"},
		})
	}
	return snap
}

func start(t *testing.T, api *fakeAPI, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithTickInterval(time.Millisecond)}, opts...)
	c := New("s1", api, api, opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Close)

	select {
	case <-c.Loaded():
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish loading")
	}
	return c
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("controller still running in state %s", c.View().State)
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command result")
		return nil
	}
}

var ctx = context.Background()

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestAdvanceRejectsEmptyRequiredAnswer(t *testing.T) {
	api := &fakeAPI{snapshot: mcSession(3, inOneHour())}
	c := start(t, api)

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(2)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if v := c.View(); v.Position != 1 || v.Submitted != 1 {
		t.Fatalf("expected position 1 with one submission, got %+v", v)
	}

	if err := c.SetAnswer(ctx, "q2", answer.Draft{}); err != nil {
		t.Fatalf("clear answer: %v", err)
	}
	err := c.Advance(ctx)
	if KindOf(err) != KindValidation || !errors.Is(err, ErrAnswerRequired) {
		t.Fatalf("expected validation error, got %v", err)
	}
	v := c.View()
	if v.Position != 1 || v.LastErrorKind != KindValidation {
		t.Fatalf("expected to stay at q2 with validation error, got %+v", v)
	}

	submits, _ := api.counts()
	if submits != 1 {
		t.Fatalf("expected one submit call, got %d", submits)
	}
	if got := *api.submitted[0].SelectedOptionText; got != "C" {
		t.Fatalf("expected option text C, got %q", got)
	}
	if api.submitted[0].AnswerText != nil {
		t.Fatal("expected null answer_text for multiple_choice")
	}
}

func TestPastDeadlineFinalizesImmediately(t *testing.T) {
	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	api := &fakeAPI{snapshot: mcSession(3, past)}
	c := start(t, api)
	waitDone(t, c)

	v := c.View()
	if v.State != StateCompleted || v.Trigger != TriggerTimeout {
		t.Fatalf("expected timeout completion, got %+v", v)
	}
	if err := c.Complete(ctx); err != nil {
		t.Fatalf("complete after completion: %v", err)
	}

	submits, completes := api.counts()
	if submits != 0 || completes != 1 {
		t.Fatalf("expected 0 submits and 1 completion, got %d and %d", submits, completes)
	}
	if api.completeReqs[0].EarlyCompletion != nil {
		t.Fatal("timeout completion must not be flagged early")
	}
}

func TestCompleteOnUnansweredLastQuestionSkipsSubmission(t *testing.T) {
	api := &fakeAPI{snapshot: mcSession(2, inOneHour())}
	c := start(t, api)

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := c.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitDone(t, c)

	submits, completes := api.counts()
	if submits != 1 || completes != 1 {
		t.Fatalf("expected 1 submit and 1 completion, got %d and %d", submits, completes)
	}
	if api.completeReqs[0].EarlyCompletion != nil {
		t.Fatal("completion on the last question must send {}")
	}
	if v := c.View(); v.State != StateCompleted || v.Summary == nil {
		t.Fatalf("expected completed view with summary, got %+v", v)
	}
}

func TestEarlyCompleteAutoSubmitsCurrentAnswer(t *testing.T) {
	api := &fakeAPI{snapshot: mcSession(3, inOneHour())}
	c := start(t, api)

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(1)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := c.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}

	submits, completes := api.counts()
	if submits != 1 || completes != 1 {
		t.Fatalf("expected 1 submit and 1 completion, got %d and %d", submits, completes)
	}
	req := api.completeReqs[0]
	if req.EarlyCompletion == nil || !*req.EarlyCompletion {
		t.Fatal("expected early_completion=true")
	}
}

func TestFailedAutoSubmitDoesNotBlockCompletion(t *testing.T) {
	api := &fakeAPI{
		snapshot:   mcSession(1, inOneHour()),
		submitErrs: []error{errors.New("502 bad gateway")},
	}
	rec := &fakeRecorder{}
	c := start(t, api, WithRecorder(rec))

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := c.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.View().State != StateCompleted {
		t.Fatal("expected completion despite failed auto-submit")
	}
	if !rec.has(model.JournalSubmissionFailed) {
		t.Fatal("expected failed auto-submit to be journaled")
	}
}

func TestSubmissionFailureIsRetryableAndCoalesced(t *testing.T) {
	api := &fakeAPI{
		snapshot:   mcSession(3, inOneHour()),
		submitErrs: []error{errors.New("connection reset")},
	}
	c := start(t, api)

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	err := c.Advance(ctx)
	if KindOf(err) != KindSubmission {
		t.Fatalf("expected submission error, got %v", err)
	}
	v := c.View()
	if v.Position != 0 || v.Question.Submitted || v.LastErrorKind != KindSubmission {
		t.Fatalf("expected q1 unsubmitted after failure, got %+v", v)
	}

	// Still editable.
	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(1)); err != nil {
		t.Fatalf("edit after failure: %v", err)
	}

	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	api.mu.Lock()
	api.submitGate, api.submitEntered = gate, entered
	api.mu.Unlock()

	errs := make(chan error, 2)
	go func() { errs <- c.Advance(ctx) }()
	waitSignal(t, entered, "first retry")
	if !c.View().Pending {
		t.Fatal("expected pending view while submitting")
	}
	go func() { errs <- c.Advance(ctx) }()
	time.Sleep(50 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if err := recvErr(t, errs); err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
	}
	submits, _ := api.counts()
	if submits != 2 {
		t.Fatalf("expected the failed call plus one coalesced retry, got %d calls", submits)
	}
	if v := c.View(); v.Position != 1 {
		t.Fatalf("expected a single advance to q2, got position %d", v.Position)
	}
	if got := *api.submitted[0].SelectedOptionText; got != "B" {
		t.Fatalf("expected edited option B to be sent, got %q", got)
	}
}

func TestResumeRestoresSubmittedAnswersWithoutNetwork(t *testing.T) {
	snap := mcSession(3, inOneHour())
	selected := "B"
	snap.Questions[0].SubmittedAnswer = &model.SubmittedAnswer{SelectedOption: &selected}
	text := "I would profile first."
	snap.Questions[1] = model.Question{
		ID:              "q2",
		Kind:            model.QuestionKindFreeText,
		Prompt:          "How do you debug latency?",
		SubmittedAnswer: &model.SubmittedAnswer{AnswerText: &text},
	}
	api := &fakeAPI{snapshot: snap}
	c := start(t, api)

	v := c.View()
	if v.Submitted != 2 {
		t.Fatalf("expected two seeded submissions, got %d", v.Submitted)
	}
	q := v.Question
	if q == nil || q.SelectedOption == nil || *q.SelectedOption != 1 || !q.Submitted || !q.ReadOnly {
		t.Fatalf("expected read-only q1 with option B, got %+v", q)
	}

	err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0))
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}

	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance q1: %v", err)
	}
	if got := c.View().Question.AnswerText; got != text {
		t.Fatalf("expected restored text, got %q", got)
	}
	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance q2: %v", err)
	}
	if c.View().Position != 2 {
		t.Fatal("expected to reach q3")
	}

	submits, _ := api.counts()
	if submits != 0 {
		t.Fatalf("resumed answers were resent: %d calls", submits)
	}
}

func TestRestoredDraftsAreEditableAndNotResent(t *testing.T) {
	snap := mcSession(1, inOneHour())
	snap.Questions = append(snap.Questions, model.Question{ID: "q2", Kind: model.QuestionKindFreeText, Prompt: "Why Go?"})
	api := &fakeAPI{snapshot: snap}
	rec := &fakeRecorder{}
	c := start(t, api,
		WithRecorder(rec),
		WithDraftSource(fakeDrafts{"q2": answer.TextDraft("goroutines"), "zz": answer.TextDraft("stale")}),
	)

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	q := c.View().Question
	if q.AnswerText != "goroutines" || q.ReadOnly {
		t.Fatalf("expected editable restored draft, got %+v", q)
	}
	submits, _ := api.counts()
	if submits != 1 {
		t.Fatalf("restored draft was sent: %d calls", submits)
	}

	if err := c.SetAnswer(ctx, "q2", answer.TextDraft("channels")); err != nil {
		t.Fatalf("edit restored draft: %v", err)
	}
	rec.mu.Lock()
	got := rec.drafts["q2"].Text
	rec.mu.Unlock()
	if got != "channels" {
		t.Fatalf("expected draft change recorded, got %q", got)
	}

	c.Close()
	waitDone(t, c)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.closed || rec.success {
		t.Fatal("expected close reported as not completed")
	}
}

// ---------------------------------------------------------------------------
// Latches and races
// ---------------------------------------------------------------------------

func TestCompleteRacingTimeoutCallsSinkOnce(t *testing.T) {
	now := time.Now().UTC()
	clock := &fakeClock{t: now}
	snap := mcSession(2, now.Add(10*time.Second).Format(time.RFC3339))

	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	api := &fakeAPI{snapshot: snap, completeGate: gate, completeEntered: entered}
	c := start(t, api, WithClock(clock.Now))

	errs := make(chan error, 2)
	go func() { errs <- c.Complete(ctx) }()
	waitSignal(t, entered, "completion call")

	go func() { errs <- c.Complete(ctx) }()
	clock.Set(now.Add(time.Hour))
	time.Sleep(50 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if err := recvErr(t, errs); err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
	}
	waitDone(t, c)

	_, completes := api.counts()
	if completes != 1 {
		t.Fatalf("expected one completion call, got %d", completes)
	}
	if v := c.View(); v.Trigger != TriggerUser {
		t.Fatalf("expected user trigger to win, got %s", v.Trigger)
	}
}

func TestTimeoutDuringPendingAdvanceDiscardsLateResult(t *testing.T) {
	now := time.Now().UTC()
	clock := &fakeClock{t: now}
	snap := mcSession(3, now.Add(10*time.Second).Format(time.RFC3339))

	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	api := &fakeAPI{snapshot: snap, submitGate: gate, submitEntered: entered}
	rec := &fakeRecorder{}
	c := start(t, api, WithClock(clock.Now), WithRecorder(rec))

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	errs := make(chan error, 1)
	go func() { errs <- c.Advance(ctx) }()
	waitSignal(t, entered, "submission")

	clock.Set(now.Add(time.Hour))
	if err := recvErr(t, errs); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected pending advance to be cancelled by timeout, got %v", err)
	}
	close(gate)
	waitDone(t, c)

	v := c.View()
	if v.State != StateCompleted || v.Trigger != TriggerTimeout {
		t.Fatalf("expected timeout completion, got %+v", v)
	}
	if v.Position != 0 {
		t.Fatalf("late submission result moved the position to %d", v.Position)
	}
	submits, completes := api.counts()
	if submits != 1 || completes != 1 {
		t.Fatalf("expected 1 coalesced submit and 1 completion, got %d and %d", submits, completes)
	}
	if !rec.has(model.JournalSessionCompleted) {
		t.Fatal("expected completion to be journaled")
	}
}

func TestCompleteWaitsForEmptyFreeTextSubmissionInFlight(t *testing.T) {
	snap := &model.Snapshot{
		Session: model.Session{ID: "s1", EndsAt: inOneHour()},
		Questions: []model.Question{
			{ID: "q1", Kind: model.QuestionKindFreeText, Prompt: "Anything to add?"},
			{ID: "q2", Kind: model.QuestionKindFreeText, Prompt: "Why?"},
		},
	}
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	api := &fakeAPI{snapshot: snap, submitGate: gate, submitEntered: entered}
	rec := &fakeRecorder{}
	c := start(t, api,
		WithProfile(submission.Profile{ChoiceTextNullable: true, AllowEmptyFreeText: true}),
		WithRecorder(rec),
	)

	advanced := make(chan error, 1)
	go func() { advanced <- c.Advance(ctx) }()
	waitSignal(t, entered, "submission")

	completed := make(chan error, 1)
	go func() { completed <- c.Complete(ctx) }()
	if err := recvErr(t, advanced); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected pending advance to be cancelled, got %v", err)
	}

	// Completion must not be sent while the answer is still in flight.
	select {
	case err := <-completed:
		t.Fatalf("complete returned before the submission settled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if _, completes := api.counts(); completes != 0 {
		t.Fatal("completion sent before the in-flight submission settled")
	}

	close(gate)
	if err := recvErr(t, completed); err != nil {
		t.Fatalf("complete: %v", err)
	}
	waitDone(t, c)

	v := c.View()
	if v.State != StateCompleted || v.Submitted != 1 {
		t.Fatalf("expected completed with the joined answer recorded, got %+v", v)
	}
	submits, completes := api.counts()
	if submits != 1 || completes != 1 {
		t.Fatalf("expected 1 submit and 1 completion, got %d and %d", submits, completes)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []model.JournalEventType{
		model.JournalSessionLoaded, model.JournalFinalizing,
		model.JournalAnswerSubmitted, model.JournalSessionCompleted,
	}
	if fmt.Sprint(rec.events) != fmt.Sprint(want) {
		t.Fatalf("unexpected journal order %v", rec.events)
	}
}

func TestFinalizationFailureAllowsOnlyRetry(t *testing.T) {
	api := &fakeAPI{
		snapshot:     mcSession(2, inOneHour()),
		completeErrs: []error{errors.New("500 internal server error")},
	}
	c := start(t, api)

	err := c.Complete(ctx)
	if KindOf(err) != KindFinalization {
		t.Fatalf("expected finalization error, got %v", err)
	}
	v := c.View()
	if v.State != StateFinalizing || !v.CanRetryCompletion {
		t.Fatalf("expected retryable finalizing state, got %+v", v)
	}

	if err := c.Advance(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("advance after finalizing: %v", err)
	}
	if err := c.Back(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("back after finalizing: %v", err)
	}
	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("set answer after finalizing: %v", err)
	}

	if err := c.RetryCompletion(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitDone(t, c)
	if c.View().State != StateCompleted {
		t.Fatal("expected completed after retry")
	}
	if err := c.RetryCompletion(ctx); err != nil {
		t.Fatalf("retry after completion: %v", err)
	}

	_, completes := api.counts()
	if completes != 2 {
		t.Fatalf("expected 2 completion calls, got %d", completes)
	}
}

func TestAlreadyCompletedCountsAsSuccess(t *testing.T) {
	api := &fakeAPI{
		snapshot:     mcSession(1, inOneHour()),
		completeErrs: []error{fmt.Errorf("409 conflict: %w", model.ErrSessionAlreadyCompleted)},
	}
	c := start(t, api)

	if err := c.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.View().State != StateCompleted {
		t.Fatal("expected completed")
	}
}

func TestRetryWithoutFailure(t *testing.T) {
	api := &fakeAPI{snapshot: mcSession(2, inOneHour())}
	c := start(t, api)
	if err := c.RetryCompletion(ctx); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("expected ErrNothingToRetry, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Loading and navigation
// ---------------------------------------------------------------------------

func TestSessionCompletedAtLoad(t *testing.T) {
	snap := mcSession(2, inOneHour())
	snap.Session.Status = model.SessionStatusCompleted
	api := &fakeAPI{snapshot: snap}
	c := start(t, api)
	waitDone(t, c)

	v := c.View()
	if v.State != StateCompleted || v.Trigger != TriggerServer {
		t.Fatalf("expected server-completed view, got %+v", v)
	}
	if err := c.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, completes := api.counts(); completes != 0 {
		t.Fatal("completed session must not be completed again")
	}
}

func TestLoadFailureAborts(t *testing.T) {
	api := &fakeAPI{loadErr: errors.New("404 not found")}
	rec := &fakeRecorder{}
	c := start(t, api, WithRecorder(rec))
	waitDone(t, c)

	v := c.View()
	if v.State != StateAborted || v.LastErrorKind != KindLoad {
		t.Fatalf("expected aborted view, got %+v", v)
	}
	if err := c.Advance(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if !rec.has(model.JournalSessionAborted) {
		t.Fatal("expected abort to be journaled")
	}
}

func TestInvalidSnapshotAborts(t *testing.T) {
	api := &fakeAPI{snapshot: &model.Snapshot{Session: model.Session{ID: "s1"}}}
	c := start(t, api)
	waitDone(t, c)
	if c.View().State != StateAborted {
		t.Fatal("session without questions must abort")
	}
}

func TestMissingDeadlineIsNeutral(t *testing.T) {
	var mu sync.Mutex
	var timerErrs int
	listener := func(ev Event) {
		if ev.Type == EventError && KindOf(ev.Err) == KindTimer {
			mu.Lock()
			timerErrs++
			mu.Unlock()
		}
	}
	api := &fakeAPI{snapshot: mcSession(2, "")}
	c := start(t, api, WithListener(listener))

	time.Sleep(20 * time.Millisecond)
	v := c.View()
	if v.State != StateActive || !v.TimerNeutral {
		t.Fatalf("expected active session with neutral timer, got %+v", v)
	}
	mu.Lock()
	defer mu.Unlock()
	if timerErrs != 1 {
		t.Fatalf("expected one timer anomaly event, got %d", timerErrs)
	}
}

func TestNavigationBounds(t *testing.T) {
	api := &fakeAPI{snapshot: mcSession(2, inOneHour())}
	c := start(t, api)

	if err := c.Back(ctx); !errors.Is(err, ErrNoPreviousQuestion) {
		t.Fatalf("expected ErrNoPreviousQuestion, got %v", err)
	}
	if err := c.SetAnswer(ctx, "q2", answer.OptionDraft(0)); !errors.Is(err, ErrNotCurrentQuestion) {
		t.Fatalf("expected ErrNotCurrentQuestion, got %v", err)
	}
	if err := c.SetAnswer(ctx, "nope", answer.OptionDraft(0)); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(7)); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}

	if err := c.SetAnswer(ctx, "q1", answer.OptionDraft(0)); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := c.Advance(ctx); !errors.Is(err, ErrNoNextQuestion) {
		t.Fatalf("expected ErrNoNextQuestion, got %v", err)
	}

	if err := c.Back(ctx); err != nil {
		t.Fatalf("back: %v", err)
	}
	q := c.View().Question
	if q.ID != "q1" || !q.ReadOnly {
		t.Fatalf("expected read-only q1 after going back, got %+v", q)
	}
	// Advancing past a submitted question never resubmits.
	if err := c.Advance(ctx); err != nil {
		t.Fatalf("advance again: %v", err)
	}
	if submits, _ := api.counts(); submits != 1 {
		t.Fatalf("expected a single submission, got %d", submits)
	}
}

func TestCommandsBeforeStart(t *testing.T) {
	api := &fakeAPI{snapshot: mcSession(1, inOneHour())}
	c := New("s1", api, api)
	if err := c.Advance(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if c.View().State != StateLoading {
		t.Fatal("expected loading view before start")
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()
	if err := c.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}
