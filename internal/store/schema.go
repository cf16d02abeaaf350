package store

import "strings"

// sqliteSchema is the pairing database DDL for the SQLite backend.
//
// Two tables: sync holds one row per confirmed pairing, config holds the
// singleton change-feed cursor. Both id columns carry UNIQUE so the 1:1
// pairing invariant is enforced by the database itself, not just by the
// resolver.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sync (
    abook_id TEXT NOT NULL UNIQUE,
    crm_id TEXT NOT NULL UNIQUE,
    abook_name TEXT,
    crm_name TEXT,
    abook_changed TEXT,
    crm_changed TEXT
);

CREATE TABLE IF NOT EXISTS config (
    cursor TEXT UNIQUE,
    cursor_updated_at TEXT
);
`

// mysqlSchema mirrors sqliteSchema in MySQL dialect. UNIQUE on TEXT needs
// a key length in MySQL, so the id columns are sized VARCHARs instead.
const mysqlSchema = `
CREATE TABLE IF NOT EXISTS sync (
    abook_id VARCHAR(255) NOT NULL UNIQUE,
    crm_id VARCHAR(255) NOT NULL UNIQUE,
    abook_name VARCHAR(255),
    crm_name VARCHAR(255),
    abook_changed VARCHAR(255),
    crm_changed VARCHAR(255)
);

CREATE TABLE IF NOT EXISTS config (
    cursor VARCHAR(255) UNIQUE,
    cursor_updated_at VARCHAR(64)
);
`

const dropSchema = `
DROP TABLE IF EXISTS sync;
DROP TABLE IF EXISTS config;
`

// splitStatements splits a multi-statement SQL string into individual
// statements. The MySQL driver executes one statement per call unless
// multiStatements is enabled, which we keep off.
func splitStatements(schema string) []string {
	parts := strings.Split(schema, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
