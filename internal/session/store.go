package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGStore persists sessions in Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const resolvedColumns = `
	s.id, s.schedule_id, s.date, s.starts_at, s.ends_at, s.status,
	COALESCE(s.qr_token, ''), COALESCE(s.qr_valid_until, 'epoch'::timestamptz),
	c.id, c.teacher_id, c.latitude, c.longitude, c.radius_m`

func scanResolved(row *sql.Row) (Resolved, error) {
	var r Resolved
	if err := row.Scan(
		&r.ID, &r.ScheduleID, &r.Date, &r.StartsAt, &r.EndsAt, &r.Status,
		&r.QRToken, &r.QRValidUntil,
		&r.ClassID, &r.TeacherID, &r.Fence.Center.Lat, &r.Fence.Center.Lng, &r.Fence.RadiusMeters,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Resolved{}, ErrNotFound
		}
		return Resolved{}, err
	}
	return r, nil
}

// ByID loads a session with its class context.
func (s *PGStore) ByID(ctx context.Context, id string) (Resolved, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resolvedColumns+`
		FROM sessions s
		JOIN schedules sc ON sc.id = s.schedule_id
		JOIN classes c ON c.id = sc.class_id
		WHERE s.id = $1
	`, id)
	return scanResolved(row)
}

// ByToken loads the session whose current QR token equals the scanned one.
// Rotated-out tokens match no row.
func (s *PGStore) ByToken(ctx context.Context, token string) (Resolved, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resolvedColumns+`
		FROM sessions s
		JOIN schedules sc ON sc.id = s.schedule_id
		JOIN classes c ON c.id = sc.class_id
		WHERE s.qr_token = $1
	`, token)
	return scanResolved(row)
}

// RotateToken issues and persists a fresh QR token for a session, replacing
// the previous one. Returns the new token.
func (s *PGStore) RotateToken(ctx context.Context, sessionID string, now time.Time, ttl time.Duration) (string, error) {
	var scheduleID string
	err := s.db.QueryRowContext(ctx,
		`SELECT schedule_id FROM sessions WHERE id = $1`, sessionID,
	).Scan(&scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}

	token, payload := IssueToken(scheduleID, sessionID, now, ttl)
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions SET qr_token = $2, qr_valid_until = $3 WHERE id = $1
	`, sessionID, token, time.UnixMilli(payload.ValidUntil))
	if err != nil {
		return "", err
	}
	return token, nil
}

// SetStatus transitions a session's lifecycle state.
func (s *PGStore) SetStatus(ctx context.Context, sessionID string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2 WHERE id = $1`, sessionID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Generate creates one SCHEDULED session per matching weekday in [from, to],
// each carrying an initial QR token. Days already holding a session for the
// schedule are skipped.
func (s *PGStore) Generate(ctx context.Context, scheduleID string, from, to time.Time, tokenTTL time.Duration) ([]Session, error) {
	var dayOfWeek int
	var startTime, endTime string
	err := s.db.QueryRowContext(ctx, `
		SELECT day_of_week, start_time, end_time FROM schedules WHERE id = $1
	`, scheduleID).Scan(&dayOfWeek, &startTime, &endTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("schedule %s not found", scheduleID)
		}
		return nil, err
	}

	var sessions []Session
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if int(day.Weekday()) != dayOfWeek {
			continue
		}
		starts, err := atTime(day, startTime)
		if err != nil {
			return nil, err
		}
		ends, err := atTime(day, endTime)
		if err != nil {
			return nil, err
		}

		sess := Session{
			ID:         uuid.NewString(),
			ScheduleID: scheduleID,
			Date:       day,
			StartsAt:   starts,
			EndsAt:     ends,
			Status:     StatusScheduled,
		}
		token, payload := IssueToken(scheduleID, sess.ID, starts, tokenTTL)
		sess.QRToken = token
		sess.QRValidUntil = time.UnixMilli(payload.ValidUntil)

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, schedule_id, date, starts_at, ends_at, status, qr_token, qr_valid_until)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (schedule_id, date) DO NOTHING
		`, sess.ID, sess.ScheduleID, sess.Date, sess.StartsAt, sess.EndsAt, sess.Status, sess.QRToken, sess.QRValidUntil)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// atTime composes a day with a schedule's "HH:MM" wall-clock time.
func atTime(day time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad schedule time %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, day.Location()), nil
}

var _ Store = (*PGStore)(nil)
