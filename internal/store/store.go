package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - fresh database
// 1 - updates component index and writes.update_seq link
const currentSchemaVersion = 1

// ErrNotFound is returned when a record or write does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQLite-backed world state and its update/write logs.
type Store struct {
	db   *sql.DB
	path string
}

// memoryPath opens a private in-memory database. With one connection the
// database lives as long as the Store.
const memoryPath = ":memory:"

// connPragmas are applied to the single connection after open. journal_mode
// is skipped for in-memory databases, which have no journal file.
var connPragmas = []struct {
	name, value string
	fileOnly    bool
}{
	{"journal_mode", "WAL", true},
	{"synchronous", "NORMAL", false},
	{"busy_timeout", "5000", false},
	{"foreign_keys", "ON", false},
}

// Open opens the world database at path, creating it if needed, and brings
// its schema to currentSchemaVersion. Reopening an existing database keeps
// its records and logs. The path ":memory:" opens a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := applyPragmas(db, path == memoryPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func applyPragmas(db *sql.DB, inMemory bool) error {
	for _, p := range connPragmas {
		if p.fileOnly && inMemory {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 backfills what schema.sql creates for new databases on
// databases created before the writes/updates link existed.
func migrateToV1(db *sql.DB) error {
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_updates_component ON updates(component, seq)`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('writes') WHERE name = 'update_seq'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE writes ADD COLUMN update_seq INTEGER REFERENCES updates(seq)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// pragma reads the current value of a pragma.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("pragma %s: %w", name, err)
	}
	return value, nil
}
