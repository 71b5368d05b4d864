package contact

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRecentSendCount_PrunesOldEntries(t *testing.T) {
	rdb := newTestRedis(t)
	r := &Resolver{redis: rdb}

	targetID, modeID := uuid.New(), uuid.New()
	ctx := context.Background()

	require.NoError(t, r.recordSend(ctx, targetID, modeID))
	count, err := r.recentSendCount(ctx, targetID, modeID, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = r.recentSendCount(ctx, targetID, modeID, 0)
	require.NoError(t, err)
	require.Equal(t, 0, count, "a zero-length window should prune the just-recorded send")
}

func TestRecordSend_IsIdempotentlyCountable(t *testing.T) {
	rdb := newTestRedis(t)
	r := &Resolver{redis: rdb}

	targetID, modeID := uuid.New(), uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, r.recordSend(ctx, targetID, modeID))
	}

	count, err := r.recentSendCount(ctx, targetID, modeID, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}
