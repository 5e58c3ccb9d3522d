// internal/channels/redis.go
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultGroupExpiry bounds how long an abandoned group set lingers in Redis.
const DefaultGroupExpiry = 24 * time.Hour

type redisSub struct {
	ps   *redis.PubSub
	done chan struct{}
}

// RedisLayer routes channel traffic over Redis pub/sub so connections held by
// different server instances can share a group. Group membership lives in Redis sets.
type RedisLayer struct {
	rdb         *redis.Client
	prefix      string
	groupExpiry time.Duration
	log         *logrus.Entry

	mu   sync.Mutex
	subs map[string]*redisSub
}

func NewRedisLayer(rdb *redis.Client, prefix string, logger *logrus.Logger) *RedisLayer {
	if prefix == "" {
		prefix = "dyad"
	}
	return &RedisLayer{
		rdb:         rdb,
		prefix:      prefix,
		groupExpiry: DefaultGroupExpiry,
		log:         logrus.NewEntry(logger).WithField("component", "channels"),
		subs:        make(map[string]*redisSub),
	}
}

func (l *RedisLayer) channelKey(channel string) string {
	return l.prefix + ":chan:" + channel
}

func (l *RedisLayer) groupKey(group string) string {
	return l.prefix + ":group:" + group
}

func (l *RedisLayer) Subscribe(ctx context.Context, channel string) (<-chan Envelope, error) {
	l.mu.Lock()
	if _, exists := l.subs[channel]; exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("channel %s already subscribed", channel)
	}
	l.mu.Unlock()

	ps := l.rdb.Subscribe(ctx, l.channelKey(channel))
	// wait for the subscription confirmation so no message sent after Subscribe returns is lost
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	l.mu.Lock()
	l.subs[channel] = sub
	l.mu.Unlock()

	out := make(chan Envelope, InboxSize)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				l.log.Warnf("undecodable message on %s: %v", channel, err)
				continue
			}
			select {
			case out <- env:
			case <-sub.done:
				return
			}
		}
	}()
	return out, nil
}

func (l *RedisLayer) Unsubscribe(_ context.Context, channel string) error {
	l.mu.Lock()
	sub, ok := l.subs[channel]
	delete(l.subs, channel)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	close(sub.done)
	if err := sub.ps.Close(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (l *RedisLayer) GroupAdd(ctx context.Context, group, channel string) error {
	key := l.groupKey(group)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, channel)
		pipe.Expire(ctx, key, l.groupExpiry)
		return nil
	})
	if err != nil {
		return fmt.Errorf("group add %s to %s: %w", channel, group, err)
	}
	return nil
}

func (l *RedisLayer) GroupDiscard(ctx context.Context, group, channel string) error {
	if err := l.rdb.SRem(ctx, l.groupKey(group), channel).Err(); err != nil {
		return fmt.Errorf("group discard %s from %s: %w", channel, group, err)
	}
	return nil
}

func (l *RedisLayer) GroupSend(ctx context.Context, group string, env Envelope) error {
	members, err := l.rdb.SMembers(ctx, l.groupKey(group)).Result()
	if err != nil {
		return fmt.Errorf("group members %s: %w", group, err)
	}
	if len(members) == 0 {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	_, err = l.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, channel := range members {
			pipe.Publish(ctx, l.channelKey(channel), payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("group send %s to %s: %w", env.Type, group, err)
	}
	return nil
}

func (l *RedisLayer) Send(ctx context.Context, channel string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	receivers, err := l.rdb.Publish(ctx, l.channelKey(channel), payload).Result()
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", env.Type, channel, err)
	}
	if receivers == 0 {
		return ErrNoSuchChannel
	}
	return nil
}
