// Package store mirrors in-progress drafts to Redis so a session can be
// re-attached after the engine that held it goes away.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/config"
	"github.com/stemsi/interview-engine/internal/model"
)

// DraftStore keeps one Redis hash per session, one field per question.
type DraftStore struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewDraftStore creates a DraftStore. Every write refreshes the hash TTL.
func NewDraftStore(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *DraftStore {
	return &DraftStore{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "draft_store").Logger(),
	}
}

// LoadDrafts returns every mirrored draft of sessionID. Undecodable fields
// are skipped.
func (s *DraftStore) LoadDrafts(ctx context.Context, sessionID model.ID) (map[model.ID]answer.Draft, error) {
	fields, err := s.rdb.HGetAll(ctx, config.CacheKey.SessionDraftsKey(sessionID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load drafts: %w", err)
	}

	drafts := make(map[model.ID]answer.Draft, len(fields))
	for qid, raw := range fields {
		var d answer.Draft
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID.String()).Str("question_id", qid).Msg("Skipping malformed draft")
			continue
		}
		drafts[model.ID(qid)] = d
	}
	return drafts, nil
}

// SaveDraft writes one draft and refreshes the expiry in a single round trip.
func (s *DraftStore) SaveDraft(ctx context.Context, sessionID, questionID model.ID, d answer.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}

	key := config.CacheKey.SessionDraftsKey(sessionID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, questionID.String(), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// ClearDrafts drops all drafts of sessionID.
func (s *DraftStore) ClearDrafts(ctx context.Context, sessionID model.ID) error {
	if err := s.rdb.Del(ctx, config.CacheKey.SessionDraftsKey(sessionID.String())).Err(); err != nil {
		return fmt.Errorf("clear drafts: %w", err)
	}
	return nil
}
