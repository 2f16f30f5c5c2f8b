// Package sqlstore wires store.Handle construction to concrete SQL
// backends: modernc.org/sqlite for development/tests, and bun's own
// pgdriver/pgdialect for production Postgres, matching the dialect layer
// the teacher queue library already standardized on for its sqlite-backed
// tests.
package sqlstore

import (
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens an in-process SQLite database at dsn (e.g.
// "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" for
// tests, or a file path for a durable single-node deployment) and wraps it
// in a *bun.DB using sqlitedialect.
//
// SQLite serializes writers, so OpenSQLite caps the pool at one connection
// to avoid SQLITE_BUSY under concurrent Claim calls, as the teacher's own
// test helper does.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

// OpenPostgres opens a Postgres connection using pgdriver (bun's own
// database/sql driver, avoiding an extra third-party Postgres client) and
// wraps it in a *bun.DB using pgdialect.
func OpenPostgres(dsn string) (*bun.DB, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}
