package server

import (
	"time"

	"cradle/internal/domain"
	"cradle/internal/recurrence"
)

// Request payloads

type CreateReminderRequest struct {
	OwnerID     string  `json:"owner_id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty" enum:"feeding,vaccine,doctor,medicine,sleep,activity,other"`
	DueAt       string  `json:"due_at" format:"date-time"`
	Rule        *string `json:"rule,omitempty" example:"daily"`
}

type UpdateReminderRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty" enum:"feeding,vaccine,doctor,medicine,sleep,activity,other"`
	DueAt       *string `json:"due_at,omitempty" format:"date-time"`
}

type RescheduleRequest struct {
	DueAt string `json:"due_at" format:"date-time"`
}

// Response payloads

type ReminderResponse struct {
	ID             string  `json:"id"`
	OwnerID        string  `json:"owner_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Category       string  `json:"category" enum:"feeding,vaccine,doctor,medicine,sleep,activity,other"`
	DueAt          string  `json:"due_at" format:"date-time"`
	Repeats        bool    `json:"repeats"`
	Rule           *string `json:"rule,omitempty"`
	Completed      bool    `json:"completed"`
	DeliveryHandle *string `json:"delivery_handle,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type CompleteReminderResponse struct {
	Completed ReminderResponse  `json:"completed"`
	Successor *ReminderResponse `json:"successor,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	ReminderID string `json:"reminder_id,omitempty"`
	Payload    string `json:"payload_json,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func reminderResponse(r domain.Reminder) ReminderResponse {
	resp := ReminderResponse{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		Title:          r.Title,
		Description:    r.Description,
		Category:       string(r.Category),
		DueAt:          r.DueAt.Format(time.RFC3339),
		Repeats:        r.Repeats,
		Completed:      r.Completed,
		DeliveryHandle: r.DeliveryHandle,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.Rule != nil {
		s := r.Rule.String()
		resp.Rule = &s
	}
	return resp
}

func mapReminders(items []domain.Reminder) []ReminderResponse {
	res := []ReminderResponse{}
	for _, r := range items {
		res = append(res, reminderResponse(r))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OwnerID:    e.OwnerID,
		ReminderID: e.ReminderID,
		Payload:    e.Payload,
	}
}

func categoryFromString(s string) domain.Category {
	if s == "" {
		return domain.CategoryOther
	}
	return domain.Category(s)
}

func parseRule(raw *string) (*recurrence.Rule, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	rule, err := recurrence.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
