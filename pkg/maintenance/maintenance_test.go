package maintenance

import (
	"context"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/aggregation"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/escalation"
	"github.com/pagewave/pagewave/pkg/target"
)

type fakeDBTX struct{}

func (f *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (f *fakeDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return emptyRows{}, nil
}

func (f *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return emptyRow{}
}

type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool             { return false }
func (emptyRows) Err() error             { return nil }
func (emptyRows) Close()                 {}
func (emptyRows) Scan(dest ...any) error { return pgx.ErrNoRows }

type emptyRow struct{}

func (emptyRow) Scan(dest ...any) error { return pgx.ErrNoRows }

func testLoop() *Loop {
	queries := store.New(&fakeDBTX{})
	c := cache.New(queries, slog.Default())
	targets := target.New(queries)
	e := escalation.New(queries, c, targets, slog.Default())
	sendQueue := make(chan store.Message, 8)
	batchQueue := make(chan aggregation.Batch, 8)
	a := aggregation.New(queries, c, slog.Default(), sendQueue, batchQueue)
	return New(e, a, queries, slog.Default(), Config{})
}

func TestTick_RunsAllFourPhasesWithoutError(t *testing.T) {
	l := testLoop()
	require.NoError(t, l.tick(context.Background()))
}

func TestPruneChangelog_NoRowsIsNotAnError(t *testing.T) {
	l := testLoop()
	require.NoError(t, l.pruneChangelog(context.Background()))
}

func TestRunOnce_RecoversFromPanic(t *testing.T) {
	l := testLoop()
	l.runOnce(context.Background(), "boom", func(ctx context.Context) error {
		panic("simulated crash")
	})
}
