package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// dbStore holds the CRUD logic shared by both backends. The SQL is dialect
// neutral (both drivers take ? placeholders); only the DDL differs, so each
// backend passes its own schema in.
type dbStore struct {
	db     *sql.DB
	log    *slog.Logger
	schema string
}

const mappingColumns = "abook_id, crm_id, abook_name, crm_name, abook_changed, crm_changed"

func (s *dbStore) Insert(ctx context.Context, m Mapping) error {
	if m.ABookID == "" || m.CRMID == "" {
		return fmt.Errorf("insert mapping: both ids required: %w", ErrBadArguments)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync ("+mappingColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		m.ABookID, m.CRMID, m.ABookName, m.CRMName, m.ABookChanged, m.CRMChanged)
	if err != nil {
		return wrapDBError(fmt.Sprintf("insert mapping (%s, %s)", m.ABookID, m.CRMID), err)
	}
	s.log.Debug("mapping inserted", "abook_id", m.ABookID, "crm_id", m.CRMID)
	return nil
}

func (s *dbStore) UpdateABook(ctx context.Context, abookID string, upd MappingUpdate) error {
	return s.update(ctx, "abook", abookID, upd)
}

func (s *dbStore) UpdateCRM(ctx context.Context, crmID string, upd MappingUpdate) error {
	return s.update(ctx, "crm", crmID, upd)
}

// update patches one side of a row. side is a trusted constant ("abook" or
// "crm"), never caller input, so building column names from it is safe.
func (s *dbStore) update(ctx context.Context, side, id string, upd MappingUpdate) error {
	if id == "" {
		return fmt.Errorf("update %s mapping: id required: %w", side, ErrBadArguments)
	}
	if upd.Name == nil && upd.Changed == nil {
		return fmt.Errorf("update %s mapping %q: no fields to update: %w", side, id, ErrBadArguments)
	}

	setClauses := []string{}
	args := []any{}
	if upd.Name != nil {
		setClauses = append(setClauses, side+"_name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Changed != nil {
		setClauses = append(setClauses, side+"_changed = ?")
		args = append(args, *upd.Changed)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE sync SET %s WHERE %s_id = ?", strings.Join(setClauses, ", "), side)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapDBError(fmt.Sprintf("update %s mapping %q", side, id), err)
	}
	return nil
}

func (s *dbStore) FindByABookID(ctx context.Context, abookID string) (*Mapping, error) {
	return s.findBy(ctx, "abook_id", abookID)
}

func (s *dbStore) FindByCRMID(ctx context.Context, crmID string) (*Mapping, error) {
	return s.findBy(ctx, "crm_id", crmID)
}

func (s *dbStore) findBy(ctx context.Context, column, id string) (*Mapping, error) {
	query := "SELECT " + mappingColumns + " FROM sync WHERE " + column + " = ?"
	row := s.db.QueryRowContext(ctx, query, id)
	m, err := scanMapping(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("find mapping by %s %q", column, id), err)
	}
	return m, nil
}

func (s *dbStore) Delete(ctx context.Context, abookID, crmID string) error {
	if abookID == "" || crmID == "" {
		return fmt.Errorf("delete mapping: both ids required: %w", ErrBadArguments)
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sync WHERE abook_id = ? AND crm_id = ?", abookID, crmID)
	if err != nil {
		return wrapDBError(fmt.Sprintf("delete mapping (%s, %s)", abookID, crmID), err)
	}
	s.log.Debug("mapping deleted", "abook_id", abookID, "crm_id", crmID)
	return nil
}

func (s *dbStore) AllMappings(ctx context.Context) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mappingColumns+" FROM sync ORDER BY abook_id")
	if err != nil {
		return nil, wrapDBError("list mappings", err)
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		m, err := scanMapping(rows.Scan)
		if err != nil {
			return nil, wrapDBError("scan mapping", err)
		}
		mappings = append(mappings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list mappings", err)
	}
	return mappings, nil
}

func scanMapping(scan func(dest ...any) error) (*Mapping, error) {
	var m Mapping
	var abookName, crmName, abookChanged, crmChanged sql.NullString
	if err := scan(&m.ABookID, &m.CRMID, &abookName, &crmName, &abookChanged, &crmChanged); err != nil {
		return nil, err
	}
	m.ABookName = abookName.String
	m.CRMName = crmName.String
	m.ABookChanged = abookChanged.String
	m.CRMChanged = crmChanged.String
	return &m, nil
}

func (s *dbStore) Cursor(ctx context.Context) (*Cursor, error) {
	var token, updatedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT cursor, cursor_updated_at FROM config LIMIT 1").Scan(&token, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError("get cursor", err)
	}
	if !token.Valid || token.String == "" {
		return nil, nil
	}
	return &Cursor{Token: token.String, UpdatedAt: updatedAt.String}, nil
}

func (s *dbStore) SetCursor(ctx context.Context, token string) error {
	// The config table holds exactly one row; replace it wholesale.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("set cursor", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM config"); err != nil {
		return wrapDBError("set cursor", err)
	}
	now := time.Now().Format("2006-01-02 15:04:05")
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO config (cursor, cursor_updated_at) VALUES (?, ?)", token, now); err != nil {
		return wrapDBError("set cursor", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapDBError("set cursor", err)
	}
	s.log.Debug("cursor updated", "cursor_updated_at", now)
	return nil
}

func (s *dbStore) Reset(ctx context.Context) error {
	for _, stmt := range splitStatements(dropSchema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapDBError("reset store", err)
		}
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	s.log.Info("store reset, tables recreated")
	return nil
}

func (s *dbStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(s.schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrapDBError("init schema", err)
		}
	}
	return nil
}

func (s *dbStore) Close() error {
	return s.db.Close()
}
