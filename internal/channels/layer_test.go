package channels

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, inbox <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env, ok := <-inbox:
		require.True(t, ok, "inbox closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func assertEmpty(t *testing.T, inbox <-chan Envelope) {
	t.Helper()
	select {
	case env, ok := <-inbox:
		if ok {
			t.Fatalf("unexpected envelope %s", env.Type)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// runLayerContract checks group and direct delivery semantics for any Layer.
func runLayerContract(t *testing.T, layer Layer) {
	ctx := context.Background()
	a, b, c := "a-"+uuid.NewString(), "b-"+uuid.NewString(), "c-"+uuid.NewString()
	group := "g-" + uuid.NewString()

	inA, err := layer.Subscribe(ctx, a)
	require.NoError(t, err)
	inB, err := layer.Subscribe(ctx, b)
	require.NoError(t, err)
	inC, err := layer.Subscribe(ctx, c)
	require.NoError(t, err)

	require.NoError(t, layer.GroupAdd(ctx, group, a))
	require.NoError(t, layer.GroupAdd(ctx, group, b))

	env, err := NewEnvelope("game_update", a, map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, layer.GroupSend(ctx, group, env))

	gotA := receive(t, inA)
	gotB := receive(t, inB)
	assert.Equal(t, "game_update", gotA.Type)
	assert.Equal(t, a, gotB.Sender)
	var payload map[string]int
	require.NoError(t, gotB.Decode(&payload))
	assert.Equal(t, 1, payload["n"])
	assertEmpty(t, inC)

	direct, err := NewEnvelope("chat", b, "hi")
	require.NoError(t, err)
	require.NoError(t, layer.Send(ctx, a, direct))
	assert.Equal(t, "chat", receive(t, inA).Type)
	assertEmpty(t, inB)

	require.NoError(t, layer.GroupDiscard(ctx, group, a))
	require.NoError(t, layer.GroupSend(ctx, group, env))
	receive(t, inB)
	assertEmpty(t, inA)

	require.NoError(t, layer.Unsubscribe(ctx, a))
	assert.ErrorIs(t, layer.Send(ctx, a, direct), ErrNoSuchChannel)
	require.NoError(t, layer.Unsubscribe(ctx, b))
	require.NoError(t, layer.Unsubscribe(ctx, c))
}

func TestMemoryLayer(t *testing.T) {
	runLayerContract(t, NewMemoryLayer(logrus.New()))
}

func TestMemoryLayerUnsubscribeLeavesGroups(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLayer(logrus.New())
	_, err := l.Subscribe(ctx, "a")
	require.NoError(t, err)
	_, err = l.Subscribe(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, l.GroupAdd(ctx, "g", "a"))
	require.NoError(t, l.GroupAdd(ctx, "g", "b"))

	require.NoError(t, l.Unsubscribe(ctx, "a"))
	assert.Equal(t, []string{"b"}, l.Members("g"))
	require.NoError(t, l.Unsubscribe(ctx, "b"))
	assert.Empty(t, l.Members("g"))
}

func TestMemoryLayerRejectsDoubleSubscribe(t *testing.T) {
	l := NewMemoryLayer(logrus.New())
	_, err := l.Subscribe(context.Background(), "a")
	require.NoError(t, err)
	_, err = l.Subscribe(context.Background(), "a")
	assert.Error(t, err)
}

func TestRedisLayer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	runLayerContract(t, NewRedisLayer(rdb, "dyad-test:"+uuid.NewString(), logrus.New()))
}

func TestMemoryLayerLogsDroppedEnvelopes(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	l := NewMemoryLayer(logger)
	_, err := l.Subscribe(ctx, "a")
	require.NoError(t, err)

	for i := 0; i < InboxSize+1; i++ {
		require.NoError(t, l.Send(ctx, "a", Envelope{Type: "chat", Sender: "b"}))
	}
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "channels", entry.Data["component"])
	assert.Contains(t, entry.Message, "dropped chat")
}
