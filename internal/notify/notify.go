// Package notify delivers teacher notifications through the queue. Delivery
// is best-effort: attendance writes never wait on or fail with it.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"classattend/internal/queue"
)

// MessageType for queue messages carrying a notification.
const MessageType = "notification"

// Notification is one message for a teacher.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher enqueues notifications for the worker.
type Publisher struct {
	q queue.Queue
}

// NewPublisher creates a publisher.
func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Notify enqueues a notification for a teacher.
func (p *Publisher) Notify(ctx context.Context, teacherID, kind, message string) error {
	n := Notification{
		ID:        uuid.NewString(),
		UserID:    teacherID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Saver persists a delivered notification.
type Saver interface {
	Save(ctx context.Context, n Notification) error
}

// Deliver drains the queue into the store until ctx is cancelled. The worker
// runs this against redis; the api runs it in-process when the queue backend
// is in-memory, since no other process can see that queue.
func Deliver(ctx context.Context, q queue.Queue, store Saver) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageType {
			log.Printf("skipping message of unknown type %q", msg.Type)
			continue
		}

		var n Notification
		if err := json.Unmarshal(msg.Body, &n); err != nil {
			log.Printf("dropping malformed notification: %v", err)
			continue
		}

		if err := store.Save(ctx, n); err != nil {
			log.Printf("notification save failed (user=%s): %v", n.UserID, err)
			continue
		}
		log.Printf("notification delivered (user=%s kind=%s)", n.UserID, n.Kind)
	}
	return nil
}

// PGStore persists delivered notifications for the recipient's inbox.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Save writes a notification row.
func (s *PGStore) Save(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.UserID, n.Kind, n.Message, n.CreatedAt)
	return err
}

// ListForUser returns a user's notifications, newest first.
func (s *PGStore) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, message, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
