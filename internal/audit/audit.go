// Package audit keeps an append-only trail of privileged actions for
// compliance review. Writes never fail the caller's primary operation.
package audit

import (
	"context"
	"log"
	"time"
)

// Well-known actions recorded in the trail.
const (
	ActionLogin            = "LOGIN"
	ActionAttendanceWrite  = "ATTENDANCE_WRITE"
	ActionAttendanceReject = "ATTENDANCE_REJECT"
	ActionCorrection       = "ATTENDANCE_CORRECTION"
	ActionFaceEnroll       = "FACE_ENROLL"
	ActionRateLimitTrip    = "RATE_LIMIT_TRIP"
	ActionExport           = "EXPORT"
)

// Entry is one audit record. UserID may be "anonymous" or "SYSTEM".
type Entry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource"`
	Details   map[string]string `json:"details"`
	IPAddress string            `json:"ip_address"`
	UserAgent string            `json:"user_agent"`
	Timestamp time.Time         `json:"timestamp"`
}

// Filter narrows a Query. Zero-value fields impose no constraint; set fields
// combine with logical AND.
type Filter struct {
	UserID   string
	Action   string
	Resource string
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

// Store is the persistence boundary for entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Service wraps a store with the swallow-on-append policy.
type Service struct {
	store Store
}

// NewService creates an audit service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Append records an entry. Store failures are logged and swallowed; an audit
// problem must never fail the operation being audited.
func (s *Service) Append(ctx context.Context, e Entry) {
	if e.UserID == "" {
		e.UserID = "anonymous"
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := s.store.Insert(ctx, e); err != nil {
		log.Printf("audit append failed (action=%s resource=%s): %v", e.Action, e.Resource, err)
	}
}

// Query returns a timestamp-descending page of entries plus the total count
// matching the filter.
func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}
	return s.store.List(ctx, f)
}
