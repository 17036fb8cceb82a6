package journal

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// Transition is one session state change.
type Transition struct {
	ID        int64
	SessionID string
	Channel   string
	ProjectID int64
	State     string
	Detail    *string
	At        time.Time
}

func (j *Journal) AppendTransition(t Transition) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	_, err := j.db.Exec(`INSERT INTO session_events (session_id, channel, project_id, state, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)`, t.SessionID, t.Channel, t.ProjectID, t.State, t.Detail, t.At.UTC())
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ListTransitions returns the most recent transitions, oldest first.
// An empty channel matches all channels.
func (j *Journal) ListTransitions(channel string, limit int) ([]*Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`SELECT id, session_id, channel, project_id, state, detail, at
		FROM session_events WHERE (? = '' OR channel = ?) ORDER BY id DESC LIMIT ?`, channel, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var out []*Transition
	for rows.Next() {
		t := &Transition{}
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Channel, &t.ProjectID, &t.State, &t.Detail, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Surfaced is a notification that was handed to a sink.
type Surfaced struct {
	ID         int64
	Type       string
	Title      string
	CreatedAt  *time.Time
	SurfacedAt time.Time
}

// RecordNotification stores ev once. It reports whether the id was new.
func (j *Journal) RecordNotification(ev protocol.NotificationEvent, at time.Time) (bool, error) {
	if at.IsZero() {
		at = time.Now()
	}
	var created *time.Time
	if !ev.CreatedAt.IsZero() {
		c := ev.CreatedAt.UTC()
		created = &c
	}
	res, err := j.db.Exec(`INSERT OR IGNORE INTO notifications (id, type, title, created_at, surfaced_at)
		VALUES (?, ?, ?, ?, ?)`, ev.ID, string(ev.Type), ev.Title, created, at.UTC())
	if err != nil {
		return false, fmt.Errorf("record notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record notification: %w", err)
	}
	return n == 1, nil
}

// ListNotifications returns surfaced notifications, newest first.
func (j *Journal) ListNotifications(limit int) ([]*Surfaced, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`SELECT id, type, title, created_at, surfaced_at
		FROM notifications ORDER BY surfaced_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*Surfaced
	for rows.Next() {
		s := &Surfaced{}
		var created sql.NullTime
		if err := rows.Scan(&s.ID, &s.Type, &s.Title, &created, &s.SurfacedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if created.Valid {
			t := created.Time
			s.CreatedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
