package session

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// TokenPayload is the decoded content of a QR token. Timestamps are unix
// milliseconds, matching what scanning clients embed.
type TokenPayload struct {
	ScheduleID string `json:"schedule_id"`
	SessionID  string `json:"session_id"`
	IssuedAt   int64  `json:"timestamp"`
	ValidUntil int64  `json:"valid_until"`
}

// Expired reports whether the token's validity window has passed.
func (p TokenPayload) Expired(now time.Time) bool {
	return now.UnixMilli() > p.ValidUntil
}

// IssueToken builds a fresh QR token for a session. Tokens rotate: issuing a
// new one and storing it on the session invalidates the previous token even
// while the session stays active.
func IssueToken(scheduleID, sessionID string, now time.Time, ttl time.Duration) (string, TokenPayload) {
	payload := TokenPayload{
		ScheduleID: scheduleID,
		SessionID:  sessionID,
		IssuedAt:   now.UnixMilli(),
		ValidUntil: now.Add(ttl).UnixMilli(),
	}
	raw, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(raw), payload
}

// DecodeToken parses a scanned token. Returns ErrTokenInvalid for anything
// that does not decode to a well-formed payload.
func DecodeToken(token string) (TokenPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return TokenPayload{}, ErrTokenInvalid
	}
	var payload TokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return TokenPayload{}, ErrTokenInvalid
	}
	if payload.SessionID == "" || payload.ValidUntil == 0 {
		return TokenPayload{}, ErrTokenInvalid
	}
	return payload, nil
}
