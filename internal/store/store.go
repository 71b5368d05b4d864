// Package store is pagewave's hand-written data access layer. It follows
// the sqlc-generated-repository shape (a DBTX interface satisfied by both a
// pool and an acquired connection/transaction, a Queries struct wrapping
// it, per-table *Params structs for mutations) without actually being
// sqlc-generated, since the originating internal/db package was not part
// of the retrieved copy.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx, letting
// callers pass either a pooled connection or an open transaction to the
// same Queries methods.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with pagewave's table accessors.
type Queries struct {
	db DBTX
}

// New constructs a Queries over any DBTX (pool, connection, or transaction).
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a copy of q bound to the given transaction, for callers
// that need several statements to commit atomically.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// BeginFunc runs fn inside a transaction acquired from pool, committing on
// a nil return and rolling back otherwise.
func BeginFunc(ctx context.Context, pool *pgxpool.Pool, fn func(*Queries) error) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(New(tx))
	})
}
