package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventQueue is the source of raw journal events. *journal.RedisQueue
// satisfies it.
type EventQueue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Requeue(ctx context.Context, items [][]byte) error
}

// EventStore persists journal events. *repository.SessionEventRepository
// satisfies it.
type EventStore interface {
	CopyEvents(ctx context.Context, events []model.JournalEvent) error
	Insert(ctx context.Context, ev *model.JournalEvent) error
}

// JournalWorker drains the journal queue into PostgreSQL in batches.
type JournalWorker struct {
	queue EventQueue
	store EventStore
	log   zerolog.Logger

	now          func() time.Time
	errorBackoff time.Duration
}

func NewJournalWorker(queue EventQueue, store EventStore, log zerolog.Logger) *JournalWorker {
	return &JournalWorker{
		queue:        queue,
		store:        store,
		log:          log.With().Str("component", "journal_worker").Logger(),
		now:          time.Now,
		errorBackoff: 3 * time.Second,
	}
}

type queuedEvent struct {
	raw   []byte
	event model.JournalEvent
}

// Start runs until ctx is cancelled, then flushes what it already holds.
// Call in a goroutine.
func (w *JournalWorker) Start(ctx context.Context) {
	w.log.Info().Msg("JournalWorker started")

	buffer := make([]queuedEvent, 0, BatchSize)
	lastFlush := w.now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 && (len(buffer) >= BatchSize || w.now().Sub(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = w.now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch
		raw, err := w.queue.Pop(ctx, PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Dur("backoff", w.errorBackoff).Msg("Queue error, backing off")
			w.sleep(ctx, w.errorBackoff)
			continue
		}
		if raw == nil {
			continue
		}

		// 4. Decode; malformed events can never succeed, so they are dropped
		var ev model.JournalEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			w.log.Error().Err(err).Str("data", string(raw)).Msg("Discarding malformed journal event")
			continue
		}
		if len(buffer) == 0 {
			lastFlush = w.now()
		}
		buffer = append(buffer, queuedEvent{raw: raw, event: ev})
	}
}

// flushSafe tries a COPY, then row-by-row inserts, then requeues what still
// failed.
func (w *JournalWorker) flushSafe(ctx context.Context, batch []queuedEvent) {
	events := make([]model.JournalEvent, len(batch))
	for i := range batch {
		events[i] = batch[i].event
	}
	err := w.store.CopyEvents(ctx, events)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Persisted journal batch")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	w.fallbackInsert(ctx, batch)
}

func (w *JournalWorker) fallbackInsert(ctx context.Context, batch []queuedEvent) {
	var requeue [][]byte
	for i := range batch {
		if err := w.store.Insert(ctx, &batch[i].event); err != nil {
			w.log.Error().Err(err).
				Str("session_id", batch[i].event.SessionID.String()).
				Str("event_id", batch[i].event.ID.String()).
				Msg("Insert failed, requeueing")
			requeue = append(requeue, batch[i].raw)
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *JournalWorker) requeue(ctx context.Context, items [][]byte) {
	if ctx.Err() != nil {
		// Cancelled parents would fail the pipeline immediately.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := w.queue.Requeue(ctx, items); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue journal events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed journal events")
	// Avoid thrashing while the database is down.
	w.sleep(ctx, w.errorBackoff)
}

func (w *JournalWorker) shutdown(buffer []queuedEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")
	if len(buffer) == 0 {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}

func (w *JournalWorker) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
