package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	// Pure-Go SQLite driver; no cgo, so cross-compiled binaries keep working.
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default backend: one file, zero administration.
type SQLiteStore struct {
	dbStore
	path string
}

// sqliteConnString builds a connection string with standard pragmas.
// busy_timeout prevents "database is locked" when another process holds the
// file; WAL keeps readers from blocking the writer. A path that is already
// a file: URI passes through untouched.
func sqliteConnString(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if path == ":memory:" {
		return "file::memory:?_pragma=busy_timeout(10000)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
}

func openSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteConnString(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open pairing database %q: %w", path, err)
	}

	// Serialize access through a single connection. The sync engine is
	// strictly sequential anyway, and an in-memory database exists only
	// for the lifetime of its one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open pairing database %q: %w", path, err)
	}

	s := &SQLiteStore{
		dbStore: dbStore{db: db, log: log, schema: sqliteSchema},
		path:    path,
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("pairing database ready", "backend", "sqlite", "path", path)
	return s, nil
}

// Path returns the database file path this store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}
