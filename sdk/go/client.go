package cradlesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Cradle HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Reminder represents the API reminder model.
type Reminder struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category"`
	DueAt       string  `json:"due_at"`
	Repeats     bool    `json:"repeats"`
	Rule        *string `json:"rule,omitempty"`
	Completed   bool    `json:"completed"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// CompleteResult holds the terminal record and, for repeating
// reminders, the successor occurrence.
type CompleteResult struct {
	Completed Reminder  `json:"completed"`
	Successor *Reminder `json:"successor,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id"`
	ReminderID string `json:"reminder_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateReminderOptions carries the fields of a new reminder. Rule is
// a recurrence string such as "daily", "weekly", "monthly" or
// "every:3".
type CreateReminderOptions struct {
	OwnerID     string `json:"owner_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	DueAt       string `json:"due_at"`
	Rule        string `json:"rule,omitempty"`
}

// CreateReminder creates a reminder.
func (c *Client) CreateReminder(ctx context.Context, opts CreateReminderOptions) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodPost, "v0/reminders", opts, &resp)
	return resp, err
}

// GetReminder fetches one reminder by id.
func (c *Client) GetReminder(ctx context.Context, id string) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodGet, "v0/reminders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Upcoming lists active reminders soonest first. Limit 0 applies the
// server default.
func (c *Client) Upcoming(ctx context.Context, ownerID string, limit int) ([]Reminder, error) {
	endpoint := "v0/reminders"
	q := url.Values{}
	if ownerID != "" {
		q.Set("owner_id", ownerID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Reminder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Due lists reminders past their due time.
func (c *Client) Due(ctx context.Context, ownerID string) ([]Reminder, error) {
	endpoint := "v0/reminders/due"
	if ownerID != "" {
		endpoint += "?owner_id=" + url.QueryEscape(ownerID)
	}
	var resp []Reminder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Complete marks a reminder done and returns the successor for
// repeating reminders.
func (c *Client) Complete(ctx context.Context, id string) (CompleteResult, error) {
	var resp CompleteResult
	err := c.do(ctx, http.MethodPost, "v0/reminders/"+url.PathEscape(id)+"/done", map[string]any{}, &resp)
	return resp, err
}

// Reschedule moves a reminder to a new due time (RFC 3339).
func (c *Client) Reschedule(ctx context.Context, id, dueAt string) (Reminder, error) {
	var resp Reminder
	err := c.do(ctx, http.MethodPost, "v0/reminders/"+url.PathEscape(id)+"/reschedule", map[string]any{"due_at": dueAt}, &resp)
	return resp, err
}

// Delete removes a reminder.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/reminders/"+url.PathEscape(id), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
