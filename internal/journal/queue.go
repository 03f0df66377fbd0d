package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/interview-engine/internal/config"
	"github.com/stemsi/interview-engine/internal/model"
)

// MonitorMessage is what monitor subscribers receive on a session channel.
type MonitorMessage struct {
	Type  string             `json:"type"`
	Event model.JournalEvent `json:"event"`
}

// RedisQueue hands journal events to the persistence worker and fans them
// out to live monitors.
type RedisQueue struct {
	rdb   *redis.Client
	queue string
}

// NewRedisQueue creates a queue on the persist_session_events_queue list.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, queue: config.WorkerKey.PersistSessionEventsQueue}
}

// Push appends ev to the persistence queue and publishes it on the session's
// monitor channel in one round trip.
func (q *RedisQueue) Push(ctx context.Context, ev model.JournalEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(MonitorMessage{Type: "journal", Event: ev})
	if err != nil {
		return err
	}

	pipe := q.rdb.Pipeline()
	pipe.RPush(ctx, q.queue, data)
	pipe.Publish(ctx, config.CacheKey.SessionMonitorChannel(ev.SessionID.String()), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push journal event: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next raw event. It returns nil, nil when
// the queue stayed empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	return []byte(result[1]), nil
}

// Requeue pushes raw events back to the tail of the queue.
func (q *RedisQueue) Requeue(ctx context.Context, items [][]byte) error {
	pipe := q.rdb.Pipeline()
	for _, item := range items {
		pipe.RPush(ctx, q.queue, item)
	}
	_, err := pipe.Exec(ctx)
	return err
}
