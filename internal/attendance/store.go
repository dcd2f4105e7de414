package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGStore persists attendance records in Postgres. The table carries a
// UNIQUE (user_id, session_id) constraint; Insert leans on it instead of
// check-then-insert so concurrent duplicates cannot race past validation.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Insert writes a record. inserted=false means the (user, session) pair
// already holds a record and nothing was written.
func (s *PGStore) Insert(ctx context.Context, rec Record) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, user_id, session_id, status, method, latitude, longitude, evidence_file)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, session_id) DO NOTHING
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.SessionID, rec.Status, rec.Method,
		rec.Location.Lat, rec.Location.Lng, rec.EvidenceFile)

	if err := row.Scan(&rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// UpdateStatus applies an authorized correction.
func (s *PGStore) UpdateStatus(ctx context.Context, recordID string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE attendance_records SET status = $2 WHERE id = $1`, recordID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListByClass returns a class's records for sessions dated within [from, to],
// newest first.
func (s *PGStore) ListByClass(ctx context.Context, classID string, from, to time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.user_id, a.session_id, a.status, a.method,
		       a.latitude, a.longitude, a.evidence_file, a.created_at
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		JOIN schedules sc ON sc.id = s.schedule_id
		WHERE sc.class_id = $1 AND s.date >= $2 AND s.date <= $3
		ORDER BY a.created_at DESC
	`, classID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &rec.Status, &rec.Method,
			&rec.Location.Lat, &rec.Location.Lng, &rec.EvidenceFile, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ RecordStore = (*PGStore)(nil)
