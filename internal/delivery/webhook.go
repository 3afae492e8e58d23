package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultTimeout = 5 * time.Second

// Webhook delivers registrations to an HTTP endpoint that fronts the
// platform notification service.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookRequest struct {
	Action     string  `json:"action"`
	Handle     string  `json:"handle"`
	ReminderID string  `json:"reminder_id,omitempty"`
	DueAt      string  `json:"due_at,omitempty"`
	Payload    Payload `json:"payload,omitempty"`
}

// Register schedules an alert and returns the handle correlating it
// with the reminder record.
func (w *Webhook) Register(ctx context.Context, reminderID string, dueAt time.Time, p Payload) (string, error) {
	handle := uuid.New().String()
	req := webhookRequest{
		Action:     "register",
		Handle:     handle,
		ReminderID: reminderID,
		DueAt:      dueAt.Format(time.RFC3339),
		Payload:    p,
	}
	if err := w.post(ctx, req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return handle, nil
}

// Cancel revokes a previously registered alert.
func (w *Webhook) Cancel(ctx context.Context, handle string) error {
	if err := w.post(ctx, webhookRequest{Action: "cancel", Handle: handle}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body webhookRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cradle-Action", body.Action)
	req.Header.Set("X-Cradle-Handle", body.Handle)
	if strings.TrimSpace(w.secret) != "" {
		req.Header.Set("X-Cradle-Secret", w.secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}
