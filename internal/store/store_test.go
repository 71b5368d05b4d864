package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeDBTX is a minimal DBTX double used where a live Postgres connection
// isn't available. It only implements the methods the tests below exercise.
type fakeDBTX struct {
	execFn func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (f *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.execFn != nil {
		return f.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func TestNew(t *testing.T) {
	q := New(&fakeDBTX{})
	require.NotNil(t, q)
	require.NotNil(t, q.db)
}

func TestCreateMessage_GeneratesID(t *testing.T) {
	var capturedSQL string
	q := New(&fakeDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			capturedSQL = sql
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	id, err := q.CreateMessage(context.Background(), CreateMessageParams{
		Body: "",
	})
	require.NoError(t, err)
	require.NotEqual(t, id.String(), "")
	require.Contains(t, capturedSQL, "INSERT INTO messages")
}

func TestAppendChangelog_WritesChangeType(t *testing.T) {
	var gotArgs []any
	q := New(&fakeDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			gotArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	})

	from := "sms"
	to := "email"
	err := q.AppendChangelog(context.Background(), uuid.New(), "MODE_CHANGE", &from, &to, "fallback applied")
	require.NoError(t, err)
	require.Equal(t, "MODE_CHANGE", gotArgs[2])
}
