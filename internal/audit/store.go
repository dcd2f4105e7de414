package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PGStore persists audit entries in Postgres. Rows are never updated or
// deleted in normal operation.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Insert appends one entry.
func (s *PGStore) Insert(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, user_id, action, resource, details, ip_address, user_agent, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.UserID, e.Action, e.Resource, details, e.IPAddress, e.UserAgent, e.Timestamp)
	return err
}

// List returns entries newest-first with the total count for pagination.
func (s *PGStore) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	args := []any{}
	clauses := []string{}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.Action)
	}
	if f.Resource != "" {
		clauses = append(clauses, "resource = $"+strconv.Itoa(len(args)+1))
		args = append(args, f.Resource)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "timestamp >= $"+strconv.Itoa(len(args)+1))
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "timestamp <= $"+strconv.Itoa(len(args)+1))
		args = append(args, f.To)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, user_id, action, resource, details, ip_address, user_agent, timestamp FROM audit_log` +
		where + " ORDER BY timestamp DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &details, &e.IPAddress, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

var _ Store = (*PGStore)(nil)
