package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/model"
)

type fakeSink struct {
	mu     sync.Mutex
	events []model.JournalEvent
	gate   chan struct{}
	err    error
}

func (f *fakeSink) Push(ctx context.Context, ev model.JournalEvent) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeSink) types() []model.JournalEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.JournalEventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeDrafts struct {
	mu  sync.Mutex
	ops []string
}

func (f *fakeDrafts) SaveDraft(ctx context.Context, sessionID, questionID model.ID, d answer.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "save:"+string(sessionID)+":"+string(questionID)+":"+d.Text)
	return nil
}

func (f *fakeDrafts) ClearDrafts(ctx context.Context, sessionID model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "clear:"+string(sessionID))
	return nil
}

func closePublisher(t *testing.T, p *Publisher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPublisherKeepsOrder(t *testing.T) {
	sink := &fakeSink{}
	drafts := &fakeDrafts{}
	p := NewPublisher(sink, drafts, zerolog.Nop())

	p.Record(model.JournalEvent{SessionID: "1", Type: model.JournalSessionLoaded})
	p.DraftChanged("1", "7", answer.TextDraft("first"))
	p.DraftChanged("1", "7", answer.TextDraft("second"))
	p.Record(model.JournalEvent{SessionID: "1", Type: model.JournalSessionCompleted})
	p.SessionClosed("1", true)
	closePublisher(t, p)

	got := sink.types()
	if len(got) != 2 || got[0] != model.JournalSessionLoaded || got[1] != model.JournalSessionCompleted {
		t.Fatalf("unexpected events %v", got)
	}
	want := []string{"save:1:7:first", "save:1:7:second", "clear:1"}
	if len(drafts.ops) != len(want) {
		t.Fatalf("unexpected draft ops %v", drafts.ops)
	}
	for i := range want {
		if drafts.ops[i] != want[i] {
			t.Fatalf("op %d: expected %q, got %q", i, want[i], drafts.ops[i])
		}
	}
}

func TestPublisherKeepsDraftsOnAbandon(t *testing.T) {
	drafts := &fakeDrafts{}
	p := NewPublisher(nil, drafts, zerolog.Nop())

	p.DraftChanged("1", "7", answer.TextDraft("x"))
	p.SessionClosed("1", false)
	p.Record(model.JournalEvent{SessionID: "1"})
	closePublisher(t, p)

	if len(drafts.ops) != 1 || drafts.ops[0] != "save:1:7:x" {
		t.Fatalf("expected drafts kept, got %v", drafts.ops)
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	sink := &fakeSink{gate: make(chan struct{})}
	p := NewPublisher(sink, nil, zerolog.Nop(), WithBuffer(1))

	// The first event is taken by the worker and blocks on the gate; the
	// second fills the buffer.
	p.Record(model.JournalEvent{SessionID: "1"})
	deadline := time.Now().Add(2 * time.Second)
	for len(p.jobs) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	p.Record(model.JournalEvent{SessionID: "1"})
	p.Record(model.JournalEvent{SessionID: "1"})

	if p.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", p.Dropped())
	}
	close(sink.gate)
	closePublisher(t, p)

	if n := len(sink.types()); n != 2 {
		t.Fatalf("expected two events written, got %d", n)
	}
}

func TestPublisherAfterClose(t *testing.T) {
	sink := &fakeSink{err: errors.New("down")}
	p := NewPublisher(sink, nil, zerolog.Nop())
	p.Record(model.JournalEvent{SessionID: "1"})
	closePublisher(t, p)
	closePublisher(t, p)

	p.Record(model.JournalEvent{SessionID: "1"})
	if p.Dropped() != 1 {
		t.Fatalf("expected write after close to be dropped, got %d", p.Dropped())
	}
}
