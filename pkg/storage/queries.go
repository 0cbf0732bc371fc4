package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/json"

	"github.com/oarkflow/hl7ql"
)

// SavedQueryRecord represents a persisted query definition. The filter set
// is stored as JSON so the grammar can evolve without schema churn.
type SavedQueryRecord struct {
	ID        string
	Name      string
	Address   string
	Filter    *hl7ql.FilterSet
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Query reconstructs the runnable query from the stored definition.
func (r SavedQueryRecord) Query() hl7ql.Query {
	return hl7ql.Query{Address: r.Address, Filter: r.Filter}
}

// ErrSavedQueryNotFound indicates missing saved query entries.
var ErrSavedQueryNotFound = errors.New("saved query not found")

// RunRecord represents a stored query execution event.
type RunRecord struct {
	ID                   string
	QueryID              string
	Name                 string
	Address              string
	TotalMessages        int
	FilteredMessages     *int
	MessagesWithValue    int
	MessagesWithoutValue int
	TotalOccurrences     int
	Success              bool
	Error                string
	CreatedAt            time.Time
}

func marshalFilter(filter *hl7ql.FilterSet) (mode, logic, entries interface{}, err error) {
	if filter == nil {
		return nil, nil, nil, nil
	}
	data, err := json.Marshal(filter.Entries)
	if err != nil {
		return nil, nil, nil, err
	}
	return string(filter.Mode), nullString(filter.Logic), string(data), nil
}

func unmarshalFilter(mode, logic, entries sql.NullString) (*hl7ql.FilterSet, error) {
	if !mode.Valid {
		return nil, nil
	}
	fs := &hl7ql.FilterSet{Mode: hl7ql.Mode(mode.String)}
	if logic.Valid {
		fs.Logic = logic.String
	}
	if entries.Valid && entries.String != "" {
		if err := json.Unmarshal([]byte(entries.String), &fs.Entries); err != nil {
			return nil, err
		}
	}
	return fs, nil
}

// SaveQuery persists a named query for later reuse.
func (s *Store) SaveQuery(ctx context.Context, name string, q hl7ql.Query) (SavedQueryRecord, error) {
	rec := SavedQueryRecord{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		Address:   q.Address,
		Filter:    q.Filter,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	mode, logic, entries, err := marshalFilter(rec.Filter)
	if err != nil {
		return SavedQueryRecord{}, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO saved_queries (id, name, address, filter_mode, filter_logic, filters, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		nullString(rec.Name),
		nullString(rec.Address),
		mode,
		logic,
		entries,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return SavedQueryRecord{}, err
	}
	return rec, nil
}

func scanSavedQuery(scan func(dest ...any) error) (SavedQueryRecord, error) {
	rec := SavedQueryRecord{}
	var name, address, mode, logic, entries sql.NullString
	if err := scan(&rec.ID, &name, &address, &mode, &logic, &entries, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return SavedQueryRecord{}, err
	}
	if name.Valid {
		rec.Name = name.String
	}
	if address.Valid {
		rec.Address = address.String
	}
	filter, err := unmarshalFilter(mode, logic, entries)
	if err != nil {
		return SavedQueryRecord{}, err
	}
	rec.Filter = filter
	return rec, nil
}

// GetSavedQuery fetches a single saved query by identifier.
func (s *Store) GetSavedQuery(ctx context.Context, id string) (SavedQueryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, address, filter_mode, filter_logic, filters, created_at, updated_at FROM saved_queries WHERE id = ?`, id)
	rec, err := scanSavedQuery(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SavedQueryRecord{}, ErrSavedQueryNotFound
		}
		return SavedQueryRecord{}, err
	}
	return rec, nil
}

// GetSavedQueryByName fetches a saved query by its display name.
func (s *Store) GetSavedQueryByName(ctx context.Context, name string) (SavedQueryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, address, filter_mode, filter_logic, filters, created_at, updated_at FROM saved_queries WHERE name = ? ORDER BY updated_at DESC LIMIT 1`, strings.TrimSpace(name))
	rec, err := scanSavedQuery(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SavedQueryRecord{}, ErrSavedQueryNotFound
		}
		return SavedQueryRecord{}, err
	}
	return rec, nil
}

// ListSavedQueries returns the stored queries ordered by most recent update.
func (s *Store) ListSavedQueries(ctx context.Context) ([]SavedQueryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, filter_mode, filter_logic, filters, created_at, updated_at FROM saved_queries ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queries []SavedQueryRecord
	for rows.Next() {
		rec, err := scanSavedQuery(rows.Scan)
		if err != nil {
			return nil, err
		}
		queries = append(queries, rec)
	}
	return queries, rows.Err()
}

// UpdateSavedQuery updates an existing saved query definition.
func (s *Store) UpdateSavedQuery(ctx context.Context, rec SavedQueryRecord) (SavedQueryRecord, error) {
	rec.Name = strings.TrimSpace(rec.Name)
	rec.UpdatedAt = time.Now().UTC()
	mode, logic, entries, err := marshalFilter(rec.Filter)
	if err != nil {
		return SavedQueryRecord{}, err
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE saved_queries SET name = ?, address = ?, filter_mode = ?, filter_logic = ?, filters = ?, updated_at = ? WHERE id = ?`,
		nullString(rec.Name),
		nullString(rec.Address),
		mode,
		logic,
		entries,
		rec.UpdatedAt,
		rec.ID,
	)
	if err != nil {
		return SavedQueryRecord{}, err
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return SavedQueryRecord{}, ErrSavedQueryNotFound
	}
	return s.GetSavedQuery(ctx, rec.ID)
}

// DeleteSavedQuery removes a saved query by identifier.
func (s *Store) DeleteSavedQuery(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrSavedQueryNotFound
	}
	return nil
}

// RecordRun stores the outcome of a query execution.
func (s *Store) RecordRun(ctx context.Context, entry RunRecord) (RunRecord, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var filtered interface{}
	if entry.FilteredMessages != nil {
		filtered = *entry.FilteredMessages
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO run_history (
            id, query_id, address, total_messages, filtered_messages,
            messages_with_value, messages_without_value, total_occurrences,
            success, error, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		nullString(entry.QueryID),
		nullString(entry.Address),
		entry.TotalMessages,
		filtered,
		entry.MessagesWithValue,
		entry.MessagesWithoutValue,
		entry.TotalOccurrences,
		boolToInt(entry.Success),
		nullString(entry.Error),
		entry.CreatedAt,
	)
	if err != nil {
		return RunRecord{}, err
	}
	return entry, nil
}

// ListRuns returns the most recent executions up to the provided limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
            h.id,
            h.query_id,
            sq.name,
            h.address,
            h.total_messages,
            h.filtered_messages,
            h.messages_with_value,
            h.messages_without_value,
            h.total_occurrences,
            h.success,
            h.error,
            h.created_at
        FROM run_history h
        LEFT JOIN saved_queries sq ON sq.id = h.query_id
        ORDER BY h.created_at DESC
        LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RunRecord
	for rows.Next() {
		var (
			queryID  sql.NullString
			name     sql.NullString
			address  sql.NullString
			filtered sql.NullInt64
			success  int
			errText  sql.NullString
		)
		rec := RunRecord{}
		if err := rows.Scan(&rec.ID, &queryID, &name, &address, &rec.TotalMessages, &filtered, &rec.MessagesWithValue, &rec.MessagesWithoutValue, &rec.TotalOccurrences, &success, &errText, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if queryID.Valid {
			rec.QueryID = queryID.String
		}
		if name.Valid {
			rec.Name = name.String
		}
		if address.Valid {
			rec.Address = address.String
		}
		if filtered.Valid {
			count := int(filtered.Int64)
			rec.FilteredMessages = &count
		}
		rec.Success = success == 1
		if errText.Valid {
			rec.Error = errText.String
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

// ClearRuns removes all stored execution entries.
func (s *Store) ClearRuns(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_history`)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
