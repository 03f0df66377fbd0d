package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/countdown"
	"github.com/stemsi/interview-engine/internal/model"
	"github.com/stemsi/interview-engine/internal/submission"
)

// Loader fetches the session snapshot.
type Loader interface {
	LoadSession(ctx context.Context, id model.ID) (*model.Snapshot, error)
}

// Sink receives answers and the completion call.
type Sink interface {
	submission.Sink
	CompleteSession(ctx context.Context, id model.ID, req model.CompleteRequest) (*model.CompletionSummary, error)
}

// DraftSource returns drafts mirrored by an earlier controller instance.
type DraftSource interface {
	LoadDrafts(ctx context.Context, sessionID model.ID) (map[model.ID]answer.Draft, error)
}

// Recorder observes the controller. Methods must be safe for concurrent use
// and must not block.
type Recorder interface {
	Record(ev model.JournalEvent)
	DraftChanged(sessionID, questionID model.ID, d answer.Draft)
	SessionClosed(sessionID model.ID, completed bool)
}

type nopRecorder struct{}

func (nopRecorder) Record(model.JournalEvent) {}
func (nopRecorder) DraftChanged(model.ID, model.ID, answer.Draft) {}
func (nopRecorder) SessionClosed(model.ID, bool) {}

type options struct {
	log      zerolog.Logger
	now      func() time.Time
	tick     time.Duration
	profile  submission.Profile
	recorder Recorder
	drafts   DraftSource
	listener func(Event)
}

func defaultOptions() options {
	return options{
		log:      zerolog.Nop(),
		now:      time.Now,
		tick:     countdown.DefaultInterval,
		profile:  submission.DefaultProfile,
		recorder: nopRecorder{},
		listener: func(Event) {},
	}
}

// Option configures a Controller.
type Option func(*options)

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tick = d
		}
	}
}

func WithProfile(p submission.Profile) Option {
	return func(o *options) { o.profile = p }
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithDraftSource(s DraftSource) Option {
	return func(o *options) { o.drafts = s }
}

// WithListener registers fn for controller events. fn runs on the controller
// goroutine and must return quickly.
func WithListener(fn func(Event)) Option {
	return func(o *options) {
		if fn != nil {
			o.listener = fn
		}
	}
}
