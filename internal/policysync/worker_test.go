package policysync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agion-ai/agion-go/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestStartupSync(t *testing.T) {
	var fetches atomic.Int32
	var mu sync.Mutex
	var applied []policy.Rule

	fetch := func(context.Context) ([]policy.Rule, error) {
		fetches.Add(1)
		return []policy.Rule{{ID: "r1", Expression: "true", Enabled: true}}, nil
	}
	apply := func(rules []policy.Rule) {
		mu.Lock()
		applied = rules
		mu.Unlock()
	}

	w := New(nil, time.Hour, fetch, apply, testLogger())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Equal(t, int32(1), fetches.Load())
	mu.Lock()
	require.Len(t, applied, 1)
	assert.Equal(t, "r1", applied[0].ID)
	mu.Unlock()

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.Syncs)
	assert.True(t, stats.Running)
}

func TestStartupSyncErrorReturnedButWorkerRuns(t *testing.T) {
	fetch := func(context.Context) ([]policy.Rule, error) {
		return nil, errors.New("service down")
	}

	w := New(nil, time.Hour, fetch, func([]policy.Rule) {}, testLogger())
	err := w.Start(context.Background())
	require.Error(t, err)
	defer w.Stop()

	stats := w.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Errors)
}

func TestPushNotificationTriggersSync(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	var fetches atomic.Int32
	fetch := func(context.Context) ([]policy.Rule, error) {
		fetches.Add(1)
		return nil, nil
	}

	w := New(rdb, time.Hour, fetch, func([]policy.Rule) {}, testLogger())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// Startup sync already happened once; keep publishing until the
	// subscriber is registered and picks one up.
	require.Eventually(t, func() bool {
		mr.Publish(Channel, `{"action":"policy_updated"}`)
		return fetches.Load() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPollFallback(t *testing.T) {
	var fetches atomic.Int32
	fetch := func(context.Context) ([]policy.Rule, error) {
		fetches.Add(1)
		// Failing fetches never update lastSync, so the poll keeps
		// retrying at every interval.
		return nil, errors.New("still down")
	}

	w := New(nil, 20*time.Millisecond, fetch, func([]policy.Rule) {}, testLogger())
	_ = w.Start(context.Background())
	defer w.Stop()

	require.Eventually(t, func() bool {
		return fetches.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	w := New(nil, time.Hour, func(context.Context) ([]policy.Rule, error) {
		return nil, nil
	}, func([]policy.Rule) {}, testLogger())

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
	assert.False(t, w.Stats().Running)
}

func TestJitterStaysNearInterval(t *testing.T) {
	d := time.Second
	for i := 0; i < 100; i++ {
		j := jitter(d)
		assert.GreaterOrEqual(t, j, d-d/10)
		assert.LessOrEqual(t, j, d+d/10)
	}
}
