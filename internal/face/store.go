package face

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotEnrolled is returned when a user has no stored descriptor.
var ErrNotEnrolled = errors.New("no face descriptor enrolled")

// Descriptor is a user's canonical stored biometric template.
type Descriptor struct {
	UserID     string
	Filename   string
	Vector     []float32
	Confidence float64
	UpdatedAt  time.Time
}

// DescriptorStore persists one canonical descriptor per user in Postgres.
type DescriptorStore struct {
	db *sql.DB
}

// NewDescriptorStore creates a store.
func NewDescriptorStore(db *sql.DB) *DescriptorStore {
	return &DescriptorStore{db: db}
}

// Replace stores the descriptor for a user, overwriting any previous one.
// The single-row UPSERT keeps re-registration last-writer-wins: a concurrent
// read sees either the old or the new vector, never a mix.
func (s *DescriptorStore) Replace(ctx context.Context, userID, filename string, vector []float32, confidence float64) error {
	if userID == "" {
		return errors.New("user id required")
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO face_descriptors (user_id, filename, descriptor, confidence, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			descriptor = EXCLUDED.descriptor,
			confidence = EXCLUDED.confidence,
			updated_at = NOW()
	`, userID, filename, encoded, confidence)
	return err
}

// Get returns the stored descriptor for a user, or ErrNotEnrolled.
func (s *DescriptorStore) Get(ctx context.Context, userID string) (Descriptor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, filename, descriptor, confidence, updated_at
		FROM face_descriptors WHERE user_id = $1
	`, userID)

	var d Descriptor
	var encoded []byte
	if err := row.Scan(&d.UserID, &d.Filename, &encoded, &d.Confidence, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Descriptor{}, ErrNotEnrolled
		}
		return Descriptor{}, err
	}
	if err := json.Unmarshal(encoded, &d.Vector); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	return d, nil
}
