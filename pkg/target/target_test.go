package target

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
)

// stubDBTX answers GetTarget with a fixed row and everything else with
// pgx.ErrNoRows, enough to exercise the no-role-expansion direct-target path.
type stubDBTX struct {
	targetID uuid.UUID
}

func (s *stubDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s *stubDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (s *stubDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return stubRow{targetID: s.targetID}
}

type stubRow struct{ targetID uuid.UUID }

func (r stubRow) Scan(dest ...any) error {
	*dest[0].(*uuid.UUID) = r.targetID
	*dest[1].(*string) = "alice"
	*dest[2].(*string) = "user"
	return nil
}

func TestTargetsForRole_NoRoleReturnsDirectTarget(t *testing.T) {
	id := uuid.New()
	resolver := New(store.New(&stubDBTX{targetID: id}))

	targets, err := resolver.TargetsForRole(context.Background(), "", id)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "alice", targets[0].Name)
}
