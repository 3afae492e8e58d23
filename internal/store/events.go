package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cradle/internal/domain"
)

// LatestEvents returns the most recent event rows, newest first.
func (s *Store) LatestEvents(ctx context.Context, limit int, evtType, reminderID string) ([]domain.Event, error) {
	return s.LatestEventsFrom(ctx, limit, 0, evtType, reminderID)
}

// LatestEventsFrom pages backwards through the event log using the row
// id as cursor.
func (s *Store) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, reminderID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if reminderID != "" {
		clauses = append(clauses, "reminder_id=?")
		args = append(args, reminderID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,owner_id,reminder_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var ownerID, reminderID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &ownerID, &reminderID, &payload); err != nil {
			return nil, err
		}
		if ownerID.Valid {
			e.OwnerID = ownerID.String
		}
		if reminderID.Valid {
			e.ReminderID = reminderID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
