package escalation

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/target"
)

// fakeDBTX answers Query/QueryRow with no rows and Exec with a zero-affected
// tag, enough to exercise code paths that don't depend on row content.
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

// emptyRows is a pgx.Rows that yields zero rows.
type emptyRows struct{ pgx.Rows }

func (emptyRows) Next() bool                                 { return false }
func (emptyRows) Err() error                                  { return nil }
func (emptyRows) Close()                                      {}
func (emptyRows) Scan(dest ...any) error                      { return pgx.ErrNoRows }
func (emptyRows) Values() ([]any, error)                      { return nil, pgx.ErrNoRows }
func (emptyRows) RawValues() [][]byte                         { return nil }

// emptyRow is a pgx.Row that always reports no matching row.
type emptyRow struct{}

func (emptyRow) Scan(dest ...any) error { return pgx.ErrNoRows }

func testEngine() *Engine {
	queries := store.New(&fakeDBTX{})
	c := cache.New(queries, slog.Default())
	targets := target.New(queries)
	return New(queries, c, targets, slog.Default())
}

func TestDeactivate_NoExhaustedIncidentsIsNotAnError(t *testing.T) {
	e := testEngine()
	require.NoError(t, e.Deactivate(context.Background()))
}

func TestEscalate_NoIncidentsIsNotAnError(t *testing.T) {
	e := testEngine()
	require.NoError(t, e.Escalate(context.Background()))
}

func TestAugmentContext_MergesExtraFields(t *testing.T) {
	raw := json.RawMessage(`{"original":"value"}`)
	merged, err := augmentContext(raw, map[string]any{"plan": "default"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(merged, &out))
	require.Equal(t, "value", out["original"])
	require.Equal(t, "default", out["plan"])
}

func TestNonEmptyPtr(t *testing.T) {
	require.Nil(t, nonEmptyPtr(""))
	require.Equal(t, "welcome", *nonEmptyPtr("welcome"))
}
