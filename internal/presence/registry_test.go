package presence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/dyad/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func participant(email string) models.Participant {
	return models.Participant{Email: email, Name: email}
}

func connIDs(entries []Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ConnID)
	}
	return ids
}

// runStoreContract checks the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("admit keeps insertion order", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(newStore(t), WithClock(clock.Now))
		for _, id := range []string{"c1", "c2", "c3"} {
			_, err := r.Admit(ctx, id, participant(id+"@example.com"))
			require.NoError(t, err)
		}
		all, err := r.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c3"}, connIDs(all))
	})

	t.Run("re-admitting a participant evicts the old connection", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(newStore(t), WithClock(clock.Now))
		_, err := r.Admit(ctx, "tab-1", participant("alice@example.com"))
		require.NoError(t, err)
		_, err = r.Admit(ctx, "other", participant("bob@example.com"))
		require.NoError(t, err)
		_, err = r.Admit(ctx, "tab-2", participant("alice@example.com"))
		require.NoError(t, err)

		all, err := r.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"other", "tab-2"}, connIDs(all))
	})

	t.Run("expired entries are filtered on read", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(newStore(t), WithClock(clock.Now), WithTTL(time.Minute))
		_, err := r.Admit(ctx, "old", participant("old@example.com"))
		require.NoError(t, err)
		clock.Advance(45 * time.Second)
		_, err = r.Admit(ctx, "new", participant("new@example.com"))
		require.NoError(t, err)

		clock.Advance(30 * time.Second)
		all, err := r.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, connIDs(all))
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		r := NewRegistry(newStore(t))
		_, err := r.Admit(ctx, "c1", participant("a@example.com"))
		require.NoError(t, err)
		require.NoError(t, r.Remove(ctx, "c1"))
		require.NoError(t, r.Remove(ctx, "c1"))
		require.NoError(t, r.Remove(ctx, "never-admitted"))
		all, err := r.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("claim takes both or neither", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(newStore(t), WithClock(clock.Now))
		_, err := r.Admit(ctx, "a", participant("a@example.com"))
		require.NoError(t, err)
		_, err = r.Admit(ctx, "b", participant("b@example.com"))
		require.NoError(t, err)

		ok, err := r.Claim(ctx, "a", "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		all, err := r.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2, "a failed claim must not remove anything")

		ok, err = r.Claim(ctx, "a", "b")
		require.NoError(t, err)
		assert.True(t, ok)
		all, err = r.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		ok, err = r.Claim(ctx, "a", "b")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("claim refuses expired and self pairs", func(t *testing.T) {
		clock := newFakeClock()
		r := NewRegistry(newStore(t), WithClock(clock.Now), WithTTL(time.Minute))
		_, err := r.Admit(ctx, "a", participant("a@example.com"))
		require.NoError(t, err)
		ok, err := r.Claim(ctx, "a", "a")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = r.Admit(ctx, "b", participant("b@example.com"))
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)
		ok, err = r.Claim(ctx, "a", "b")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

// TestConcurrentClaimsNeverShareACandidate races many pairing attempts for one
// waiting connection; exactly one may win.
func TestConcurrentClaimsNeverShareACandidate(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewMemoryStore())
	_, err := r.Admit(ctx, "waiting", participant("waiting@example.com"))
	require.NoError(t, err)

	const callers = 16
	for i := 0; i < callers; i++ {
		_, err := r.Admit(ctx, fmt.Sprintf("caller-%d", i), participant(fmt.Sprintf("c%d@example.com", i)))
		require.NoError(t, err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := r.Claim(ctx, fmt.Sprintf("caller-%d", i), "waiting")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	all, err := r.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, callers-1)
}

func TestAdmitSetsExpiryFromClock(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(NewMemoryStore(), WithClock(clock.Now))
	e, err := r.Admit(context.Background(), "c1", participant("a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultTTL), e.ExpiresAt)
}
