package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// newTestRedis connects to a local Redis or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisStoreContract(t *testing.T) {
	rdb := newTestRedis(t)
	runStoreContract(t, func(t *testing.T) Store {
		prefix := "dyad-test:" + uuid.NewString()
		s := NewRedisStore(rdb, prefix, logrus.New())
		t.Cleanup(func() {
			keys := s.keys()
			rdb.Del(context.Background(), keys...)
		})
		return s
	})
}
