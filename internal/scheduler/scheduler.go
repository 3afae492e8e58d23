// Package scheduler runs the due-check loop: a periodic scan over the
// active reminders that surfaces each one exactly once per process run
// when its due time passes.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"cradle/internal/domain"
	"cradle/internal/events"
)

const (
	// DefaultInterval between due-check scans.
	DefaultInterval = 5 * time.Second
	// DefaultFeedBuffer is the surfaced-feed channel capacity.
	DefaultFeedBuffer = 64
)

// Lister is the read side of the reminder store: a snapshot of every
// non-terminal record, ordered by due time.
type Lister interface {
	ListActive() []domain.Reminder
}

// Scheduler scans the store on a fixed tick and emits due reminders on
// the feed. The shown set lives only for the process run; it is
// intentionally not persisted, so a reminder that came due while the
// process was down is surfaced on the first tick after start no matter
// how overdue it is.
type Scheduler struct {
	store    Lister
	events   *events.Writer
	interval time.Duration
	feed     chan domain.Reminder

	// Now is swappable for tests.
	Now func() time.Time

	mu    sync.Mutex
	shown map[string]struct{}
}

func New(store Lister, interval time.Duration, feedBuffer int) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if feedBuffer <= 0 {
		feedBuffer = DefaultFeedBuffer
	}
	return &Scheduler{
		store:    store,
		interval: interval,
		feed:     make(chan domain.Reminder, feedBuffer),
		Now:      time.Now,
		shown:    make(map[string]struct{}),
	}
}

// WithEvents records a reminder.surfaced event row per surfacing.
func (s *Scheduler) WithEvents(w events.Writer) *Scheduler {
	s.events = &w
	return s
}

// Feed is the surfaced-reminder stream consumed by the in-app alert
// layer.
func (s *Scheduler) Feed() <-chan domain.Reminder {
	return s.feed
}

// Run blocks, scanning once immediately and then on every tick, until
// ctx is cancelled. The feed is closed on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.interval)
	}
	log.Printf("[scheduler] started, interval %s", s.interval)
	defer close(s.feed)

	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] shutting down")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Tick runs a single scan. Exposed for tests and for callers that
// drive the loop themselves.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.Now()
	for _, r := range s.store.ListActive() {
		if r.DueAt.After(now) {
			// ListActive is ordered by due time; the rest are in the future.
			break
		}
		s.mu.Lock()
		_, seen := s.shown[r.ID]
		s.mu.Unlock()
		if seen {
			continue
		}
		select {
		case s.feed <- r:
			s.mu.Lock()
			s.shown[r.ID] = struct{}{}
			s.mu.Unlock()
			if s.events != nil {
				if err := s.events.Append(ctx, "reminder.surfaced", r.OwnerID, r.ID, events.EventPayload{
					"due_at":  r.DueAt.Format(time.RFC3339),
					"late_by": now.Sub(r.DueAt).String(),
				}); err != nil {
					log.Printf("[scheduler] record surfaced event: %v", err)
				}
			}
		default:
			// Feed full: leave the id unmarked so the next tick retries
			// rather than dropping the surfacing.
			log.Printf("[scheduler] feed full, deferring %s", r.ID)
		}
	}
}

// Forget drops an id from the shown set. The service calls it when a
// reminder is completed or deleted so the set does not accumulate
// stale ids in a long-running process.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	delete(s.shown, id)
	s.mu.Unlock()
}
