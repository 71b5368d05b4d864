package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/pagewave/pagewave/internal/store"
	"github.com/pagewave/pagewave/pkg/cache"
	"github.com/pagewave/pagewave/pkg/contact"
	"github.com/pagewave/pagewave/pkg/render"
	"github.com/pagewave/pagewave/pkg/vendor"
)

// fakeDBTX answers Query/QueryRow with no rows and Exec with a zero-affected
// tag — enough to exercise audit/mark-dead code paths without a database.
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

type stubSlave struct {
	err     error
	latency time.Duration
}

func (s stubSlave) Send(ctx context.Context, job Job) (time.Duration, error) {
	return s.latency, s.err
}

type stubVendor struct {
	err     error
	latency time.Duration
}

func (s stubVendor) Send(ctx context.Context, msg vendor.Message) (time.Duration, error) {
	return s.latency, s.err
}

func testDispatcher(slaves []SlaveClient, numSlaves int, vendors *vendor.Registry) *Dispatcher {
	queries := store.New(&fakeDBTX{})
	c := cache.New(queries, slog.Default())
	contacts := contact.New(queries, c, nil, "email")
	renderer := render.New(c, render.OneclickConfig{})
	return New(queries, c, contacts, renderer, vendors, slog.Default(), nil, nil, Config{
		Workers: 1, Slaves: slaves, NumSlaves: numSlaves,
	})
}

func TestDistributedSend_FallsBackToLocalVendorWhenNoSlavesConfigured(t *testing.T) {
	vendors := vendor.NewRegistry()
	vendors.Register("email", stubVendor{latency: 10 * time.Millisecond})
	d := testDispatcher(nil, 0, vendors)

	latency, err := d.distributedSend(context.Background(), Job{ModeName: "email"})
	require.NoError(t, err)
	require.Equal(t, 10*time.Millisecond, latency)
}

func TestDistributedSend_TriesSlavesBeforeFallingBackLocally(t *testing.T) {
	failing := stubSlave{err: errors.New("slave unreachable")}
	vendors := vendor.NewRegistry()
	vendors.Register("sms", stubVendor{latency: 5 * time.Millisecond})
	d := testDispatcher([]SlaveClient{failing, failing}, 2, vendors)

	latency, err := d.distributedSend(context.Background(), Job{ModeName: "sms"})
	require.NoError(t, err)
	require.Equal(t, 5*time.Millisecond, latency)
}

func TestDistributedSend_SucceedsOnASlaveWithoutFallingBack(t *testing.T) {
	working := stubSlave{latency: 2 * time.Millisecond}
	d := testDispatcher([]SlaveClient{working}, 1, vendor.NewRegistry())

	latency, err := d.distributedSend(context.Background(), Job{ModeName: "call"})
	require.NoError(t, err)
	require.Equal(t, 2*time.Millisecond, latency)
}

func TestDistributedSend_ReturnsErrorWhenNoVendorRegistered(t *testing.T) {
	d := testDispatcher(nil, 0, vendor.NewRegistry())

	_, err := d.distributedSend(context.Background(), Job{ModeName: "chat"})
	require.Error(t, err)
}

func TestDeactivateUnresolved_DoesNotErrorWithoutAResolvedMode(t *testing.T) {
	d := testDispatcher(nil, 0, vendor.NewRegistry())
	d.deactivateUnresolved(context.Background(), store.Message{}.ID, contact.Resolution{})
}

func TestStrPtr(t *testing.T) {
	require.Nil(t, strPtr(""))
	require.Equal(t, "email", *strPtr("email"))
}
