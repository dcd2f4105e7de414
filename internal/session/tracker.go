package session

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence boundary the tracker reads sessions through.
type Store interface {
	ByID(ctx context.Context, id string) (Resolved, error)
	ByToken(ctx context.Context, token string) (Resolved, error)
}

// Tracker decides whether a session is open for attendance submissions.
// It is a pure lookup plus time comparison; no side effects.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a tracker. now may be nil, defaulting to time.Now.
func NewTracker(store Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// ResolveByID resolves a trusted session id from an authenticated route.
// The session must be ACTIVE.
func (t *Tracker) ResolveByID(ctx context.Context, id string) (Resolved, error) {
	resolved, err := t.store.ByID(ctx, id)
	if err != nil {
		return Resolved{}, err
	}
	if resolved.Status != StatusActive {
		return Resolved{}, ErrNotActive
	}
	return resolved, nil
}

// ResolveByToken resolves an untrusted scanned QR token. The embedded
// validity window is checked first; a stale token from a previous rotation
// no longer matches any session row and is rejected even when the session
// itself is still active.
func (t *Tracker) ResolveByToken(ctx context.Context, token string) (Resolved, error) {
	payload, err := DecodeToken(token)
	if err != nil {
		return Resolved{}, err
	}
	if payload.Expired(t.now()) {
		return Resolved{}, ErrTokenExpired
	}

	resolved, err := t.store.ByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resolved{}, ErrTokenInvalid
		}
		return Resolved{}, err
	}
	if resolved.Status != StatusActive {
		return Resolved{}, ErrNotActive
	}
	return resolved, nil
}
