package aggregation

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
)

func testEngine(t *testing.T, plan store.Plan) (*Engine, chan store.Message, chan Batch) {
	t.Helper()
	c := cache.New(nil, slog.Default())
	sendQueue := make(chan store.Message, 16)
	batchOut := make(chan Batch, 16)
	e := New(nil, c, slog.Default(), sendQueue, batchOut)
	// exercise Plan() directly against the engine's cache field via the
	// exported accessor is not possible without a refresh, so tests that
	// need the plan present seed e.windows/e.queues through the public
	// Intake/Flush surface only — plan lookups route through the shared
	// cache.Plan, which requires a populated snapshot. Out-of-band messages
	// (no plan_id) bypass the cache entirely and are used here instead.
	return e, sendQueue, batchOut
}

func TestIntake_OutOfBandBypassesAggregation(t *testing.T) {
	e, sendQueue, _ := testEngine(t, store.Plan{})

	msg := store.Message{ID: uuid.New()}
	require.NoError(t, e.Intake(context.Background(), msg, time.Now()))

	select {
	case got := <-sendQueue:
		require.Equal(t, msg.ID, got.ID)
	default:
		t.Fatal("expected message on send queue")
	}
}

func TestIntake_UnknownPlanReturnsError(t *testing.T) {
	e, _, _ := testEngine(t, store.Plan{})

	planID := uuid.New()
	msg := store.Message{ID: uuid.New(), PlanID: &planID}
	err := e.Intake(context.Background(), msg, time.Now())
	require.Error(t, err)
}

func TestBufferedIDs_EmptyByDefault(t *testing.T) {
	e, _, _ := testEngine(t, store.Plan{})
	require.Empty(t, e.BufferedIDs())
}
