package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// newTestClient connects to PPDESK_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PPDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PPDESK_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "pptest:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockIsExclusive(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "market:abc", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:abc", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "market:abc", time.Minute)
	require.NoError(t, err)
	again()
}

func TestMarketViewCacheRoundTrip(t *testing.T) {
	c := newTestClient(t)
	mc := NewMarketViewCache(c)
	ctx := context.Background()

	_, err := mc.Get(ctx, "9")
	require.ErrorIs(t, err, domain.ErrNotFound)

	v := domain.MarketView{MarketID: "9", PositionIDs: []string{"1", "2"}}
	require.NoError(t, mc.Set(ctx, v, time.Minute))
	got, err := mc.Get(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, v.PositionIDs, got.PositionIDs)

	require.NoError(t, mc.Invalidate(ctx, "9"))
	_, err = mc.Get(ctx, "9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignalBusDeliversPatternSubscriptions(t *testing.T) {
	c := newTestClient(t)
	sb := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := sb.Subscribe(ctx, domain.ChannelStepsPrefix+"*")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, domain.StepsChannel("run-1"), []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}

	require.NoError(t, sb.StreamAppend(ctx, domain.StreamRuns, []byte("run")))
	msgs, err := sb.StreamRead(ctx, domain.StreamRuns, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "run", string(msgs[0].Payload))
}

func TestRateLimiterWindow(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "client", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
