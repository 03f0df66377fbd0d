package submission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/model"
)

type fakeSink struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}

	mu       sync.Mutex
	err      error
	payloads []model.AnswerPayload
}

func (f *fakeSink) SubmitAnswer(ctx context.Context, sessionID model.ID, p model.AnswerPayload) error {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.err
}

var (
	mcQuestion = model.Question{ID: "1", Kind: model.QuestionKindMultipleChoice, Options: []string{"Lisbon", "Paris"}}
	ftQuestion = model.Question{ID: "2", Kind: model.QuestionKindFreeText}
)

func TestBuildPayloadMultipleChoiceSendsOptionText(t *testing.T) {
	p, err := BuildPayload(mcQuestion, answer.OptionDraft(1), DefaultProfile)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.SelectedOptionText == nil || *p.SelectedOptionText != "Paris" {
		t.Fatalf("expected option text Paris, got %v", p.SelectedOptionText)
	}
	if p.AnswerText != nil {
		t.Fatalf("expected null answer_text, got %q", *p.AnswerText)
	}

	p, _ = BuildPayload(mcQuestion, answer.OptionDraft(0), Profile{})
	if p.AnswerText == nil || *p.AnswerText != "" {
		t.Fatal("expected empty-string answer_text when choice text is not nullable")
	}
}

func TestBuildPayloadFreeText(t *testing.T) {
	p, err := BuildPayload(ftQuestion, answer.TextDraft("  channels  "), DefaultProfile)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if *p.AnswerText != "  channels  " || p.SelectedOptionText != nil {
		t.Fatalf("expected verbatim text and null option, got %+v", p)
	}

	p, _ = BuildPayload(ftQuestion, answer.TextDraft("  channels  "), Profile{TrimFreeText: true})
	if *p.AnswerText != "channels" {
		t.Fatalf("expected trimmed text, got %q", *p.AnswerText)
	}
}

func TestBuildPayloadRejectsEmptyAndOutOfRange(t *testing.T) {
	if _, err := BuildPayload(mcQuestion, answer.Draft{}, DefaultProfile); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if _, err := BuildPayload(mcQuestion, answer.OptionDraft(5), DefaultProfile); !errors.Is(err, ErrOptionOutOfRange) {
		t.Fatalf("expected ErrOptionOutOfRange, got %v", err)
	}
	if _, err := BuildPayload(ftQuestion, answer.TextDraft(" "), DefaultProfile); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if _, err := BuildPayload(ftQuestion, answer.TextDraft(""), Profile{AllowEmptyFreeText: true}); err != nil {
		t.Fatalf("expected empty free text to be allowed, got %v", err)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	c := NewCoordinator("s1", sink, DefaultProfile)

	first, err := c.Submit(context.Background(), Submission{Question: mcQuestion, Draft: answer.OptionDraft(1), Elapsed: 12 * time.Second})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Duplicate || first.Record.Payload.TimeTakenSeconds == nil || *first.Record.Payload.TimeTakenSeconds != 12 {
		t.Fatalf("unexpected first result %+v", first)
	}

	second, err := c.Submit(context.Background(), Submission{Question: mcQuestion, Draft: answer.OptionDraft(0)})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate result")
	}
	if *second.Record.Payload.SelectedOptionText != "Paris" {
		t.Fatal("duplicate must return the recorded payload, not the new draft")
	}
	if n := sink.calls.Load(); n != 1 {
		t.Fatalf("expected one network call, got %d", n)
	}
}

func TestSubmitFailureLeavesQuestionUnsubmitted(t *testing.T) {
	sink := &fakeSink{err: errors.New("503")}
	c := NewCoordinator("s1", sink, DefaultProfile)

	if _, err := c.Submit(context.Background(), Submission{Question: ftQuestion, Draft: answer.TextDraft("x")}); err == nil {
		t.Fatal("expected error")
	}
	if c.IsSubmitted(ftQuestion.ID) {
		t.Fatal("failed submission marked question submitted")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	if _, err := c.Submit(context.Background(), Submission{Question: ftQuestion, Draft: answer.TextDraft("x")}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !c.IsSubmitted(ftQuestion.ID) {
		t.Fatal("expected question submitted after retry")
	}
}

func TestConcurrentSubmitsAreCoalesced(t *testing.T) {
	sink := &fakeSink{entered: make(chan struct{}, 2), release: make(chan struct{})}
	c := NewCoordinator("s1", sink, DefaultProfile)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	submit := func(i int) {
		defer wg.Done()
		results[i], errs[i] = c.Submit(context.Background(), Submission{Question: ftQuestion, Draft: answer.TextDraft("retry")})
	}

	wg.Add(1)
	go submit(0)
	<-sink.entered

	wg.Add(1)
	go submit(1)
	time.Sleep(20 * time.Millisecond)
	close(sink.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := sink.calls.Load(); n != 1 {
		t.Fatalf("expected one network call, got %d", n)
	}
	if !results[1].Coalesced && !results[1].Duplicate {
		t.Fatalf("second call neither coalesced nor duplicate: %+v", results[1])
	}
}

func TestSeedRecordsWithoutNetwork(t *testing.T) {
	sink := &fakeSink{}
	c := NewCoordinator("s1", sink, DefaultProfile)

	opt := "Lisbon"
	q := mcQuestion
	q.SubmittedAnswer = &model.SubmittedAnswer{SelectedOption: &opt}

	if !c.Seed(q) {
		t.Fatal("expected seed")
	}
	if c.Seed(q) {
		t.Fatal("second seed must be a no-op")
	}
	if c.Seed(ftQuestion) {
		t.Fatal("question without prior answer must not seed")
	}

	rec, ok := c.Record(q.ID)
	if !ok || !rec.Seeded || *rec.Payload.SelectedOptionText != "Lisbon" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if _, err := c.Submit(context.Background(), Submission{Question: q, Draft: answer.OptionDraft(1)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sink.calls.Load() != 0 {
		t.Fatal("seeded question was resent")
	}
}

func TestCloseFreezesSubmissions(t *testing.T) {
	sink := &fakeSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	hooked := 0
	c := NewCoordinator("s1", sink, DefaultProfile, WithRecordHook(func(Record) { hooked++ }))

	errs := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), Submission{Question: ftQuestion, Draft: answer.TextDraft("late")})
		errs <- err
	}()
	<-sink.entered

	c.Close()
	close(sink.release)
	if err := <-errs; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for a call finishing after close, got %v", err)
	}
	if c.IsSubmitted(ftQuestion.ID) || c.Submitted() != 0 || hooked != 0 {
		t.Fatalf("closed coordinator recorded a submission (hooked %d)", hooked)
	}

	if _, err := c.Submit(context.Background(), Submission{Question: mcQuestion, Draft: answer.OptionDraft(0)}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	if n := sink.calls.Load(); n != 1 {
		t.Fatalf("expected no network call after close, got %d", n)
	}
}
