package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/interview-engine/internal/model"
)

var sessionEventColumns = []string{
	"id", "session_id", "instance_id", "event_type", "question_id", "payload", "error", "occurred_at",
}

// SessionEventRepository persists the session journal.
type SessionEventRepository struct {
	pool *pgxpool.Pool
}

// NewSessionEventRepository creates a new SessionEventRepository.
func NewSessionEventRepository(pool *pgxpool.Pool) *SessionEventRepository {
	return &SessionEventRepository{pool: pool}
}

// CopyEvents bulk-inserts a batch with COPY. Any bad row fails the whole batch.
func (r *SessionEventRepository) CopyEvents(ctx context.Context, events []model.JournalEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for i := range events {
		rows = append(rows, eventRow(&events[i]))
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"session_events"}, sessionEventColumns, pgx.CopyFromRows(rows))
	return err
}

// Insert writes a single event. Re-inserting an id already stored is a no-op,
// so requeued events never duplicate.
func (r *SessionEventRepository) Insert(ctx context.Context, ev *model.JournalEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_events (id, session_id, instance_id, event_type, question_id, payload, error, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		eventRow(ev)...,
	)
	return err
}

// ListBySession returns one page of a session's events in occurrence order
// and the total number of events stored for it.
func (r *SessionEventRepository) ListBySession(ctx context.Context, sessionID model.ID, page, perPage int) ([]model.JournalEvent, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_events WHERE session_id = $1`, string(sessionID),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, instance_id, event_type, COALESCE(question_id, ''), payload, COALESCE(error, ''), occurred_at
		 FROM session_events
		 WHERE session_id = $1
		 ORDER BY occurred_at, recorded_at
		 LIMIT $2 OFFSET $3`,
		string(sessionID), perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]model.JournalEvent, 0, perPage)
	for rows.Next() {
		var (
			ev        model.JournalEvent
			sid, qid  string
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&ev.ID, &sid, &ev.InstanceID, &eventType, &qid, &payload, &ev.Error, &ev.OccurredAt); err != nil {
			return nil, 0, err
		}
		ev.SessionID = model.ID(sid)
		ev.QuestionID = model.ID(qid)
		ev.Type = model.JournalEventType(eventType)
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

func eventRow(ev *model.JournalEvent) []interface{} {
	var questionID, errText, payload interface{}
	if ev.QuestionID != "" {
		questionID = string(ev.QuestionID)
	}
	if ev.Error != "" {
		errText = ev.Error
	}
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	return []interface{}{
		ev.ID, string(ev.SessionID), ev.InstanceID, string(ev.Type), questionID, payload, errText, ev.OccurredAt,
	}
}
