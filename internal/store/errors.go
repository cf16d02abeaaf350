package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common database conditions
var (
	// ErrNotFound indicates the requested row was not found in the database
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation: one of the ids
	// in an inserted pairing is already bound to another row
	ErrConflict = errors.New("mapping conflict")

	// ErrBadArguments indicates a malformed call into the store, e.g. an
	// update that names no field to change
	ErrBadArguments = errors.New("bad store arguments")
)

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to ErrNotFound and unique-constraint
// violations to ErrConflict for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isUniqueViolation matches unique-constraint failures across both
// backends by message; neither driver exposes a portable error code here.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") {
		return true // modernc.org/sqlite
	}
	if strings.Contains(msg, "error 1062") || strings.Contains(msg, "duplicate entry") {
		return true // go-sql-driver/mysql
	}
	return false
}
