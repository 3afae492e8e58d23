package domain

import (
	"time"

	"cradle/internal/recurrence"
)

// Category classifies a reminder for display and filtering. The engine
// never interprets it.
type Category string

const (
	CategoryFeeding  Category = "feeding"
	CategoryVaccine  Category = "vaccine"
	CategoryDoctor   Category = "doctor"
	CategoryMedicine Category = "medicine"
	CategorySleep    Category = "sleep"
	CategoryActivity Category = "activity"
	CategoryOther    Category = "other"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryFeeding, CategoryVaccine, CategoryDoctor,
	CategoryMedicine, CategorySleep, CategoryActivity, CategoryOther,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Reminder is one scheduled occurrence. A repeating reminder spawns a
// fresh record (new ID) for each successor occurrence when completed;
// DueAt on an existing record only changes through an explicit
// reschedule. A completed record is terminal.
type Reminder struct {
	ID             string           `json:"id"`
	OwnerID        string           `json:"owner_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Category       Category         `json:"category" enum:"feeding,vaccine,doctor,medicine,sleep,activity,other"`
	DueAt          time.Time        `json:"due_at"`
	Repeats        bool             `json:"repeats"`
	Rule           *recurrence.Rule `json:"rule,omitempty"`
	Completed      bool             `json:"completed"`
	DeliveryHandle *string          `json:"delivery_handle,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id,omitempty"`
	ReminderID string `json:"reminder_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
