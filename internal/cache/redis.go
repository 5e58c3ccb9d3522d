// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list completed game records are pushed to.
const DefaultQueueName = "dyad_game_records"

// ConnectRedis opens a client for addr and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RecordQueue hands completed game records to the historian through a Redis list.
type RecordQueue struct {
	rdb  redis.UniversalClient
	name string
}

func NewRecordQueue(rdb redis.UniversalClient, name string) *RecordQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &RecordQueue{rdb: rdb, name: name}
}

// Record serializes rec and pushes it to the tail of the queue.
func (q *RecordQueue) Record(ctx context.Context, rec models.GameRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal GameRecord: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop waits up to timeout for the next record. ok is false when the wait timed out.
// A payload that does not decode is returned as an error and is not retried.
func (q *RecordQueue) Pop(ctx context.Context, timeout time.Duration) (rec models.GameRecord, ok bool, err error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return models.GameRecord{}, false, nil
	}
	if err != nil {
		return models.GameRecord{}, false, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return models.GameRecord{}, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return models.GameRecord{}, false, fmt.Errorf("invalid game record: %w", err)
	}
	return rec, true, nil
}

// Len is the number of records waiting.
func (q *RecordQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
