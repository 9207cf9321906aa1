package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/parish-portal/internal/notification"
)

// NewNotification is the input to Create.
type NewNotification struct {
	UserID  string
	Kind    notification.Kind
	Title   string
	Message string
	Data    notification.Payload
}

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 100

const notificationColumns = `id, kind, title, message, data, is_read, read_at, created_at`

// Create stores a new unread notification for in.UserID.
func (s *Store) Create(ctx context.Context, in NewNotification) (notification.Notification, error) {
	if strings.TrimSpace(in.UserID) == "" || in.Kind == "" || strings.TrimSpace(in.Title) == "" {
		return notification.Notification{}, fmt.Errorf("%w: user, kind and title are required", ErrConstraintViolation)
	}

	n := notification.Notification{
		ID:        s.newID(),
		Kind:      in.Kind,
		Title:     in.Title,
		Message:   in.Message,
		CreatedAt: s.now().UTC(),
		Data:      in.Data,
	}

	var data sql.NullString
	if in.Data != nil {
		raw, err := json.Marshal(in.Data)
		if err != nil {
			return notification.Notification{}, fmt.Errorf("store: encode data: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, message, data, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, in.UserID, string(n.Kind), n.Title, n.Message, data, formatTime(n.CreatedAt))
	if err != nil {
		return notification.Notification{}, mapError(err)
	}
	return n, nil
}

// List returns up to limit notifications of userID, newest first.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	list := make([]notification.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return list, nil
}

// Get returns one notification of userID.
func (s *Store) Get(ctx context.Context, userID, id string) (notification.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = ? AND id = ?`, userID, id)
	return scanNotification(row)
}

// UnreadCount returns the number of unread notifications of userID.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// MarkRead marks one notification read and returns it. Marking an already
// read notification succeeds without changing its read timestamp; the
// returned flag reports whether this call flipped it.
func (s *Store) MarkRead(ctx context.Context, userID, id string) (notification.Notification, bool, error) {
	var (
		n       notification.Notification
		flipped bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notifications SET is_read = 1, read_at = ?
			WHERE user_id = ? AND id = ? AND is_read = 0`,
			formatTime(s.now()), userID, id)
		if err != nil {
			return mapError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: rows affected: %w", err)
		}
		flipped = affected > 0

		row := tx.QueryRowContext(ctx, `
			SELECT `+notificationColumns+`
			FROM notifications
			WHERE user_id = ? AND id = ?`, userID, id)
		n, err = scanNotification(row)
		return err
	})
	if err != nil {
		return notification.Notification{}, false, err
	}
	return n, flipped, nil
}

// MarkAllRead marks every unread notification of userID read and returns how
// many changed.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1, read_at = ?
		WHERE user_id = ? AND is_read = 0`,
		formatTime(s.now()), userID)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return int(affected), nil
}

// Delete removes one notification of userID.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (notification.Notification, error) {
	var (
		n         notification.Notification
		kind      string
		data      sql.NullString
		isRead    int
		readAt    sql.NullString
		createdAt string
	)
	if err := row.Scan(&n.ID, &kind, &n.Title, &n.Message, &data, &isRead, &readAt, &createdAt); err != nil {
		return notification.Notification{}, mapError(err)
	}

	n.Kind = notification.Kind(kind)
	n.IsRead = isRead == 1
	created, err := parseTime(createdAt)
	if err != nil {
		return notification.Notification{}, err
	}
	n.CreatedAt = created
	if readAt.Valid {
		at, err := parseTime(readAt.String)
		if err != nil {
			return notification.Notification{}, err
		}
		n.ReadAt = &at
	}
	if data.Valid {
		payload, err := notification.DecodePayload(n.Kind, json.RawMessage(data.String))
		if err != nil {
			return notification.Notification{}, err
		}
		n.Data = payload
	}
	return n, nil
}
