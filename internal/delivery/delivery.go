// Package delivery is the boundary to the OS-level alert service. The
// engine treats it as best-effort: a failed registration only costs the
// push notification, the due-check loop still surfaces the reminder
// in-app.
package delivery

import (
	"context"
	"errors"
	"time"

	"cradle/internal/domain"
)

// ErrUnavailable wraps any transport failure talking to the delivery
// service. Callers downgrade it to a warning.
var ErrUnavailable = errors.New("delivery unavailable")

// Payload is the display content carried by a scheduled alert.
type Payload struct {
	OwnerID     string          `json:"owner_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    domain.Category `json:"category"`
}

// Gateway registers and cancels point-in-time alerts with an external
// notification service. At most one handle is outstanding per reminder;
// rescheduling cancels the old handle before registering a new one.
type Gateway interface {
	Register(ctx context.Context, reminderID string, dueAt time.Time, p Payload) (handle string, err error)
	Cancel(ctx context.Context, handle string) error
}
