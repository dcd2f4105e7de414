package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned on unknown user or wrong password; callers
// must not leak which one it was.
var ErrBadCredentials = errors.New("invalid credentials")

// User is an account able to authenticate.
type User struct {
	ID   string
	Name string
	Role string
}

// UserStore reads accounts and refresh tokens from Postgres.
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a store.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Authenticate checks a password against the stored bcrypt hash.
func (s *UserStore) Authenticate(ctx context.Context, userID, password string) (User, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, password_hash FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Role, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrBadCredentials
		}
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (s *UserStore) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (s *UserStore) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}
