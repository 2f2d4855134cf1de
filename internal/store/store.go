// Package store implements the local durable store: one SQLite table per
// synchronized collection plus the outbox queue. All mutating operations are
// durable before they return; compound operations run inside a single
// transaction so that no partial record-plus-outbox write is observable
// after an abrupt restart.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/dbx"
	"github.com/sisbm/fleetsync/internal/filex"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Queries holds every store operation, bound to either the database or a
// transaction. Both *sql.DB and *sql.Tx satisfy dbx.DBTX.
type Queries struct {
	db dbx.DBTX
}

// Store owns the SQLite handle and exposes the operations of Queries
// directly against the database, plus WithTx for atomic compounds.
type Store struct {
	Queries
	sqldb *sql.DB
}

// Open opens (creating if necessary) the local database at dsn and brings
// the schema up to date. Failure to open or migrate is store corruption:
// the caller cannot safely continue.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreCorrupt, err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", common.ErrStoreCorrupt, dsn, err)
	}

	// modernc.org/sqlite serializes on a single connection; more would
	// surface SQLITE_BUSY under concurrent collection replays.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate %q: %v", common.ErrStoreCorrupt, dsn, err)
	}

	return &Store{Queries: Queries{db: db}, sqldb: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// WithTx runs fn with a Queries bound to a transaction, committing on
// success and rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, q *Queries) error) error {
	return dbx.WithTx(ctx, s.sqldb, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &Queries{db: tx})
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.sqldb.Close()
}
