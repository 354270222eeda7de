package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragmas are applied to every connection in order. The history file is
// shared between a simulate that is saving a run's cache and any number
// of `history stats`, `history runs` or `history export` invocations
// reading it, so it runs in WAL mode: readers see the last committed
// SaveHistory batch instead of waiting for the current one.
var pragmas = []struct{ name, value string }{
	{"journal_mode", "WAL"},
	// A crash can lose the newest batch, never corrupt older ones. Lost
	// entries are recomputed on the next run.
	{"synchronous", "NORMAL"},
	// Two simulates saving at once queue behind each other.
	{"busy_timeout", "5000"},
	// run_failures rows die with their run.
	{"foreign_keys", "ON"},
}

// migrations bring a file written by an older kestrel up to the current
// schema. Entry i moves user_version from i to i+1; schema.sql already
// contains the result of every migration for new files.
var migrations = []string{
	// ListRuns pages by seq.
	`CREATE INDEX IF NOT EXISTS idx_runs_seq ON runs(seq)`,
}

// Store is the on-disk side of the history cache: entries saved from one
// run's history.Cache are loaded into the next, along with a summary of
// every run that wrote them.
type Store struct {
	db *sql.DB
}

// Open opens the history file at path, creating it if needed, and brings
// its schema up to date. ":memory:" gives a private store that lives as
// long as the returned Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// One connection: SaveHistory and WriteRun each hold a single write
	// transaction, and an in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return migrate(db)
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if version < len(migrations) {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// Close releases the file. It is a no-op on a zero Store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nextSeq numbers the next row of table. Rows are read back in seq order,
// so a loaded cache sees entries in the order they were first saved.
func nextSeq(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s", table)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq for %s: %w", table, err)
	}
	return seq, nil
}

// verifyPragma reports whether pragma name reads back as want.
func (s *Store) verifyPragma(name, want string) error {
	var got string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("read pragma %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("pragma %s = %q, want %q", name, got, want)
	}
	return nil
}
