package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/parish-portal/internal/recurrence"
)

// PutSchedule inserts or replaces a schedule of churchID. An empty ID gets a
// generated one.
func (s *Store) PutSchedule(ctx context.Context, churchID string, schedule recurrence.Schedule) (recurrence.Schedule, error) {
	if strings.TrimSpace(churchID) == "" {
		return recurrence.Schedule{}, fmt.Errorf("%w: church is required", ErrConstraintViolation)
	}
	if schedule.ID == "" {
		schedule.ID = s.newID()
	}
	doc, err := json.Marshal(schedule)
	if err != nil {
		return recurrence.Schedule{}, fmt.Errorf("store: encode schedule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, church_id, document, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			church_id = excluded.church_id,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		schedule.ID, churchID, string(doc), formatTime(s.now()))
	if err != nil {
		return recurrence.Schedule{}, mapError(err)
	}
	return schedule, nil
}

// ListSchedules returns the schedules of churchID ordered by id.
func (s *Store) ListSchedules(ctx context.Context, churchID string) ([]recurrence.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM schedules WHERE church_id = ? ORDER BY id`, churchID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	schedules := make([]recurrence.Schedule, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, mapError(err)
		}
		var schedule recurrence.Schedule
		if err := json.Unmarshal([]byte(doc), &schedule); err != nil {
			return nil, fmt.Errorf("store: decode schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return schedules, nil
}
