// internal/presence/redis.go
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultKeyPrefix namespaces every presence key in Redis.
const DefaultKeyPrefix = "dyad:presence"

// dropEntry is shared by every script. KEYS: entries, order, expiry, owner, holder.
const dropEntry = `
local function drop(id)
	local who = redis.call('HGET', KEYS[4], id)
	if who and redis.call('HGET', KEYS[5], who) == id then
		redis.call('HDEL', KEYS[5], who)
	end
	redis.call('HDEL', KEYS[1], id)
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZREM', KEYS[3], id)
	redis.call('HDEL', KEYS[4], id)
end
`

// KEYS[6] is the insertion sequence counter.
// ARGV: conn id, participant email, payload, expires-at millis.
var putScript = redis.NewScript(dropEntry + `
local conn, email = ARGV[1], ARGV[2]
if email ~= '' then
	local prev = redis.call('HGET', KEYS[5], email)
	if prev and prev ~= conn then drop(prev) end
end
drop(conn)
redis.call('HSET', KEYS[1], conn, ARGV[3])
redis.call('ZADD', KEYS[2], redis.call('INCR', KEYS[6]), conn)
redis.call('ZADD', KEYS[3], ARGV[4], conn)
if email ~= '' then
	redis.call('HSET', KEYS[4], conn, email)
	redis.call('HSET', KEYS[5], email, conn)
end
return 1
`)

var deleteScript = redis.NewScript(dropEntry + `
drop(ARGV[1])
return 1
`)

// ARGV: conn a, conn b, now millis.
var takeScript = redis.NewScript(dropEntry + `
local now = tonumber(ARGV[3])
local ea = redis.call('ZSCORE', KEYS[3], ARGV[1])
local eb = redis.call('ZSCORE', KEYS[3], ARGV[2])
if not ea or not eb then return 0 end
if tonumber(ea) <= now or tonumber(eb) <= now then return 0 end
drop(ARGV[1])
drop(ARGV[2])
return 1
`)

// RedisStore shares presence between server instances. Every mutation runs as a Lua
// script so a Put or Take is a single atomic step on the Redis side.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	log    *logrus.Entry
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, logger *logrus.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		log:    logrus.NewEntry(logger).WithField("component", "presence"),
	}
}

func (s *RedisStore) keys() []string {
	return []string{
		s.prefix + ":entries",
		s.prefix + ":order",
		s.prefix + ":expiry",
		s.prefix + ":owner",
		s.prefix + ":holder",
		s.prefix + ":seq",
	}
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	err = putScript.Run(ctx, s.rdb, s.keys(),
		e.ConnID, e.Participant.Email, payload, e.ExpiresAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("presence put %s: %w", e.ConnID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	keys := s.keys()
	ids, err := s.rdb.ZRange(ctx, keys[1], 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("presence list order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.rdb.HMGet(ctx, keys[0], ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence list entries: %w", err)
	}

	out := make([]Entry, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// removed between ZRANGE and HMGET
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.log.Warnf("skipping undecodable entry %s: %v", ids[i], err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, connID string) error {
	if err := deleteScript.Run(ctx, s.rdb, s.keys(), connID).Err(); err != nil {
		return fmt.Errorf("presence delete %s: %w", connID, err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, a, b string, now time.Time) (bool, error) {
	n, err := takeScript.Run(ctx, s.rdb, s.keys(), a, b, now.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("presence take %s/%s: %w", a, b, err)
	}
	return n == 1, nil
}
