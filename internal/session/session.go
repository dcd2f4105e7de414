package session

import (
	"errors"
	"time"

	"classattend/internal/geo"
)

// Status is the lifecycle state of a scheduled class session.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

var (
	// ErrNotFound means no session matches the given id or token.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive means the session exists but is not open for attendance.
	ErrNotActive = errors.New("session not active")
	// ErrTokenExpired means the QR token's validity window has passed.
	ErrTokenExpired = errors.New("qr token expired")
	// ErrTokenInvalid means the token is malformed or rotated out.
	ErrTokenInvalid = errors.New("qr token invalid")
)

// Session is one scheduled occurrence of a class.
type Session struct {
	ID           string    `json:"id"`
	ScheduleID   string    `json:"schedule_id"`
	Date         time.Time `json:"date"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Status       Status    `json:"status"`
	QRToken      string    `json:"-"`
	QRValidUntil time.Time `json:"-"`
}

// Resolved is a session joined with the class context the recorder needs.
type Resolved struct {
	Session
	ClassID   string
	TeacherID string
	Fence     geo.Fence
}
