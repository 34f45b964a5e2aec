package db

import (
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// Schema versions, tracked in PRAGMA user_version:
// 0 - base tables
// 1 - unique live slot per barber
const sqliteSchemaVersion = 1

var sqliteMigrations = map[int]string{
	1: `CREATE UNIQUE INDEX IF NOT EXISTS appointments_live_slot_uniq
		ON appointments (barber_id, appt_date, appt_time)
		WHERE status <> 'cancelled'`,
}

// OpenSQLite opens (or creates) the database at path and brings the schema
// up to date. SQLite allows one writer, so the pool is capped at a single
// connection.
func OpenSQLite(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return nil
}

func migrateSQLite(db *sqlx.DB) error {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}

	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := version + 1; v <= sqliteSchemaVersion; v++ {
		if _, err := db.Exec(sqliteMigrations[v]); err != nil {
			return fmt.Errorf("migrate sqlite to v%d: %w", v, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
			return fmt.Errorf("set schema version %d: %w", v, err)
		}
	}
	return nil
}
