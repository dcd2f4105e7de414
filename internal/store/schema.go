package store

import (
	"database/sql"
	"log"
)

// EnsureSchema creates tables and constraints on startup if they are missing.
// The UNIQUE (user_id, session_id) constraint on attendance_records is what
// makes the one-record-per-pair guarantee hold under concurrent submissions.
func EnsureSchema(db *sql.DB) error {
	log.Println("ensuring database schema...")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'student',
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS classes (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			teacher_id TEXT NOT NULL REFERENCES users(id),
			latitude   DOUBLE PRECISION NOT NULL,
			longitude  DOUBLE PRECISION NOT NULL,
			radius_m   DOUBLE PRECISION NOT NULL DEFAULT 100
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id          TEXT PRIMARY KEY,
			class_id    TEXT NOT NULL REFERENCES classes(id),
			day_of_week INT NOT NULL,
			start_time  TEXT NOT NULL,
			end_time    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id             TEXT PRIMARY KEY,
			schedule_id    TEXT NOT NULL REFERENCES schedules(id),
			date           TIMESTAMPTZ NOT NULL,
			starts_at      TIMESTAMPTZ NOT NULL,
			ends_at        TIMESTAMPTZ NOT NULL,
			status         TEXT NOT NULL DEFAULT 'SCHEDULED',
			qr_token       TEXT,
			qr_valid_until TIMESTAMPTZ,
			UNIQUE (schedule_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_qr_token_idx ON sessions (qr_token)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id),
			session_id    TEXT NOT NULL REFERENCES sessions(id),
			status        TEXT NOT NULL,
			method        TEXT NOT NULL,
			latitude      DOUBLE PRECISION NOT NULL,
			longitude     DOUBLE PRECISION NOT NULL,
			evidence_file TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS face_descriptors (
			user_id    TEXT PRIMARY KEY REFERENCES users(id),
			filename   TEXT NOT NULL,
			descriptor JSONB NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			action     TEXT NOT NULL,
			resource   TEXT NOT NULL,
			details    JSONB,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			timestamp  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS audit_log_timestamp_idx ON audit_log (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS audit_log_user_idx ON audit_log (user_id)`,
		`CREATE INDEX IF NOT EXISTS audit_log_action_idx ON audit_log (action)`,
		`CREATE INDEX IF NOT EXISTS audit_log_resource_idx ON audit_log (resource)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			message    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked    BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("schema statement failed: %v", err)
			return err
		}
	}

	log.Println("database schema ready")
	return nil
}
