// Package engine is the reminder service facade: it validates input,
// drives the store, keeps the external delivery service in sync and
// records the event log. Everything above it (CLI, HTTP API, SDK)
// talks to the engine only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"cradle/internal/config"
	"cradle/internal/delivery"
	"cradle/internal/domain"
	"cradle/internal/events"
	"cradle/internal/recurrence"
	"cradle/internal/store"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidRecurrence = errors.New("invalid recurrence rule")
)

// Forgetter lets the engine drop completed or deleted ids from the
// due-check shown set.
type Forgetter interface {
	Forget(id string)
}

// Engine wires the store, the delivery gateway and the event log
// behind one API. Gateway and Feed may be nil; Now is swappable for
// tests.
type Engine struct {
	Store   *store.Store
	Events  events.Writer
	Gateway delivery.Gateway
	Config  *config.Config
	Feed    Forgetter
	Now     func() time.Time
}

func New(s *store.Store, ev events.Writer, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		Store:  s,
		Events: ev,
		Config: cfg,
		Now:    time.Now,
	}
}

// CreateOptions carries the caller-supplied fields of a new reminder.
type CreateOptions struct {
	OwnerID     string
	Title       string
	Description string
	Category    domain.Category
	DueAt       time.Time
	Rule        *recurrence.Rule
}

// CreateReminder validates the options, stores the record and
// registers a push alert when a gateway is configured. Delivery
// failure downgrades to a warning; the record is created either way.
func (e *Engine) CreateReminder(ctx context.Context, opts CreateOptions) (domain.Reminder, error) {
	if strings.TrimSpace(opts.OwnerID) == "" {
		return domain.Reminder{}, fmt.Errorf("%w: owner_id required", ErrInvalidInput)
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Reminder{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if opts.DueAt.IsZero() {
		return domain.Reminder{}, fmt.Errorf("%w: due_at required", ErrInvalidInput)
	}
	if opts.Category == "" {
		opts.Category = domain.CategoryOther
	}
	if !opts.Category.Valid() {
		return domain.Reminder{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, opts.Category)
	}
	if opts.Rule != nil {
		if err := opts.Rule.Validate(); err != nil {
			return domain.Reminder{}, fmt.Errorf("%w: %v", ErrInvalidRecurrence, err)
		}
	}

	now := e.Now()
	r := domain.Reminder{
		ID:          uuid.New().String(),
		OwnerID:     opts.OwnerID,
		Title:       opts.Title,
		Description: opts.Description,
		Category:    opts.Category,
		DueAt:       opts.DueAt,
		Repeats:     opts.Rule != nil,
		Rule:        opts.Rule,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.Add(ctx, r); err != nil {
		return domain.Reminder{}, err
	}
	e.appendEvent(ctx, "reminder.created", r.OwnerID, r.ID, events.EventPayload{
		"title":   r.Title,
		"due_at":  r.DueAt.Format(time.RFC3339),
		"repeats": r.Repeats,
	})
	e.registerDelivery(ctx, &r)
	return r, nil
}

// UpdateReminder applies a partial edit to a non-terminal record. A
// due-time change swaps the push alert so at most one handle stays
// outstanding.
func (e *Engine) UpdateReminder(ctx context.Context, id string, p store.Patch) (domain.Reminder, error) {
	if p.Category != nil && !p.Category.Valid() {
		return domain.Reminder{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *p.Category)
	}
	if p.DueAt != nil && p.DueAt.IsZero() {
		return domain.Reminder{}, fmt.Errorf("%w: due_at required", ErrInvalidInput)
	}
	prev, err := e.Store.Get(id)
	if err != nil {
		return domain.Reminder{}, err
	}
	r, err := e.Store.Update(ctx, id, p, e.Now())
	if err != nil {
		return domain.Reminder{}, err
	}
	if p.DueAt == nil {
		e.appendEvent(ctx, "reminder.updated", r.OwnerID, r.ID, nil)
		return r, nil
	}
	e.appendEvent(ctx, "reminder.rescheduled", r.OwnerID, r.ID, events.EventPayload{
		"from": prev.DueAt.Format(time.RFC3339),
		"to":   p.DueAt.Format(time.RFC3339),
	})
	if prev.DeliveryHandle != nil {
		e.cancelDelivery(ctx, r.ID, *prev.DeliveryHandle)
		if err := e.Store.ClearDeliveryHandle(ctx, r.ID); err != nil {
			log.Printf("[engine] clear delivery handle for %s: %v", r.ID, err)
		}
		r.DeliveryHandle = nil
	}
	e.registerDelivery(ctx, &r)
	return r, nil
}

// Reschedule moves a record to a new due time.
func (e *Engine) Reschedule(ctx context.Context, id string, dueAt time.Time) (domain.Reminder, error) {
	return e.UpdateReminder(ctx, id, store.Patch{DueAt: &dueAt})
}

// CompleteReminder marks a record done. Completing a terminal record
// is a no-op that returns the record unchanged. For repeating
// reminders the successor occurrence is returned alongside.
func (e *Engine) CompleteReminder(ctx context.Context, id string) (domain.Reminder, *domain.Reminder, error) {
	if prev, err := e.Store.Get(id); err == nil && prev.Completed {
		return prev, nil, nil
	}
	r, successor, err := e.Store.Complete(ctx, id, e.Now())
	if err != nil {
		return domain.Reminder{}, nil, err
	}
	if e.Feed != nil {
		e.Feed.Forget(id)
	}
	if r.DeliveryHandle != nil {
		e.cancelDelivery(ctx, r.ID, *r.DeliveryHandle)
	}
	e.appendEvent(ctx, "reminder.completed", r.OwnerID, r.ID, nil)
	if successor != nil {
		e.appendEvent(ctx, "reminder.created", successor.OwnerID, successor.ID, events.EventPayload{
			"title":       successor.Title,
			"due_at":      successor.DueAt.Format(time.RFC3339),
			"repeats":     true,
			"predecessor": r.ID,
		})
		e.registerDelivery(ctx, successor)
	}
	return r, successor, nil
}

// DeleteReminder removes a record in any state and cancels its
// outstanding push alert.
func (e *Engine) DeleteReminder(ctx context.Context, id string) error {
	r, err := e.Store.Get(id)
	if err != nil {
		return err
	}
	handle, err := e.Store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if e.Feed != nil {
		e.Feed.Forget(id)
	}
	if handle != "" {
		e.cancelDelivery(ctx, id, handle)
	}
	e.appendEvent(ctx, "reminder.deleted", r.OwnerID, id, nil)
	return nil
}

// Get returns one record.
func (e *Engine) Get(id string) (domain.Reminder, error) {
	return e.Store.Get(id)
}

// ListUpcoming returns active reminders for an owner, soonest first.
// Limit 0 applies the configured default.
func (e *Engine) ListUpcoming(ownerID string, limit int) []domain.Reminder {
	if limit <= 0 {
		limit = e.Config.Upcoming.DefaultLimit
	}
	return e.Store.ListUpcoming(ownerID, limit)
}

// ListDue returns active reminders whose due time has passed.
func (e *Engine) ListDue(ownerID string) []domain.Reminder {
	now := e.Now()
	var res []domain.Reminder
	for _, r := range e.Store.ListUpcoming(ownerID, 0) {
		if r.DueAt.After(now) {
			break
		}
		res = append(res, r)
	}
	return res
}

func (e *Engine) appendEvent(ctx context.Context, evtType, ownerID, reminderID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, ownerID, reminderID, payload); err != nil {
		log.Printf("[engine] record %s event: %v", evtType, err)
	}
}

// registerDelivery is best-effort: errors are logged, recorded in the
// event log and otherwise swallowed.
func (e *Engine) registerDelivery(ctx context.Context, r *domain.Reminder) {
	if e.Gateway == nil {
		return
	}
	dctx, cancel := e.deliveryContext(ctx)
	defer cancel()
	handle, err := e.Gateway.Register(dctx, r.ID, r.DueAt, delivery.Payload{
		OwnerID:     r.OwnerID,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
	})
	if err != nil {
		log.Printf("[engine] delivery register for %s failed: %v", r.ID, err)
		e.appendEvent(ctx, "delivery.failed", r.OwnerID, r.ID, events.EventPayload{"op": "register", "error": err.Error()})
		return
	}
	if err := e.Store.SetDeliveryHandle(ctx, r.ID, handle); err != nil {
		log.Printf("[engine] store delivery handle for %s: %v", r.ID, err)
		return
	}
	r.DeliveryHandle = &handle
}

func (e *Engine) cancelDelivery(ctx context.Context, reminderID, handle string) {
	if e.Gateway == nil {
		return
	}
	dctx, cancel := e.deliveryContext(ctx)
	defer cancel()
	if err := e.Gateway.Cancel(dctx, handle); err != nil {
		log.Printf("[engine] delivery cancel for %s failed: %v", reminderID, err)
		e.appendEvent(ctx, "delivery.failed", "", reminderID, events.EventPayload{"op": "cancel", "error": err.Error()})
	}
}

func (e *Engine) deliveryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.Config.DeliveryTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
