package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cradle/internal/domain"
	"cradle/internal/recurrence"
)

var (
	ErrNotFound    = errors.New("reminder not found")
	ErrDuplicateID = errors.New("duplicate reminder id")
	ErrTerminal    = errors.New("reminder already completed")
)

// Store is the authoritative collection of reminder records. The
// in-memory map is the source of truth at runtime; every mutation runs
// under one mutex and is written through to SQLite before the lock is
// released, so two racing completions of the same id can never both
// spawn a successor. Rows are loaded once at Open.
//
// A failed persistence write is logged, never fatal: the in-memory
// mutation stands and the full state is re-flushed on the next
// mutation.
type Store struct {
	mu    sync.Mutex
	db    *sql.DB
	items map[string]domain.Reminder
	dirty bool
}

// Open loads all reminder rows into memory.
func Open(ctx context.Context, conn *sql.DB) (*Store, error) {
	s := &Store{db: conn, items: make(map[string]domain.Reminder)}
	rows, err := conn.QueryContext(ctx, `SELECT id,owner_id,title,COALESCE(description,''),category,due_at,repeats,rule,completed,delivery_handle,created_at,updated_at FROM reminders`)
	if err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		s.items[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func scanReminder(rows *sql.Rows) (domain.Reminder, error) {
	var r domain.Reminder
	var dueAt, createdAt, updatedAt string
	var rule, handle sql.NullString
	var repeats, completed int
	if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Description, &r.Category,
		&dueAt, &repeats, &rule, &completed, &handle, &createdAt, &updatedAt); err != nil {
		return r, fmt.Errorf("scan reminder: %w", err)
	}
	r.Repeats = repeats != 0
	r.Completed = completed != 0
	if rule.Valid {
		parsed, err := recurrence.Parse(rule.String)
		if err != nil {
			return r, fmt.Errorf("reminder %s: %w", r.ID, err)
		}
		r.Rule = &parsed
	}
	if handle.Valid {
		h := handle.String
		r.DeliveryHandle = &h
	}
	var err error
	if r.DueAt, err = parseTime(dueAt); err != nil {
		return r, fmt.Errorf("reminder %s due_at: %w", r.ID, err)
	}
	r.CreatedAt, _ = parseTime(createdAt)
	r.UpdatedAt, _ = parseTime(updatedAt)
	return r, nil
}

// Add inserts a new record. The caller assigns the id and timestamps.
func (s *Store) Add(ctx context.Context, r domain.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}
	s.items[r.ID] = r
	s.persistLocked(ctx, func(tx *sql.Tx) error {
		return insertTx(ctx, tx, r)
	})
	return nil
}

// Patch holds optional fields for a partial update. Nil means leave
// unchanged.
type Patch struct {
	Title       *string
	Description *string
	Category    *domain.Category
	DueAt       *time.Time
}

// Update applies a partial update. Terminal records reject every patch.
func (s *Store) Update(ctx context.Context, id string, p Patch, now time.Time) (domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return domain.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Completed {
		return domain.Reminder{}, fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.DueAt != nil {
		r.DueAt = *p.DueAt
	}
	r.UpdatedAt = now
	s.items[id] = r
	s.persistLocked(ctx, func(tx *sql.Tx) error {
		return updateTx(ctx, tx, r)
	})
	return r, nil
}

// Complete marks a record terminal. Completing an already-terminal
// record is an idempotent no-op. For a repeating reminder exactly one
// successor record is created, due at the recurrence step after the
// completed occurrence, and returned.
func (s *Store) Complete(ctx context.Context, id string, now time.Time) (domain.Reminder, *domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return domain.Reminder{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Completed {
		return r, nil, nil
	}
	r.Completed = true
	r.UpdatedAt = now
	s.items[id] = r

	var successor *domain.Reminder
	if r.Repeats && r.Rule != nil {
		rule := *r.Rule
		next := domain.Reminder{
			ID:          uuid.New().String(),
			OwnerID:     r.OwnerID,
			Title:       r.Title,
			Description: r.Description,
			Category:    r.Category,
			DueAt:       recurrence.Next(r.DueAt, rule),
			Repeats:     true,
			Rule:        &rule,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		s.items[next.ID] = next
		successor = &next
	}
	s.persistLocked(ctx, func(tx *sql.Tx) error {
		if err := updateTx(ctx, tx, r); err != nil {
			return err
		}
		if successor != nil {
			return insertTx(ctx, tx, *successor)
		}
		return nil
	})
	return r, successor, nil
}

// Delete removes a record regardless of state and returns its
// outstanding delivery handle, if any, so the caller can cancel it.
func (s *Store) Delete(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	s.persistLocked(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE id=?`, id)
		return err
	})
	if r.DeliveryHandle != nil {
		return *r.DeliveryHandle, nil
	}
	return "", nil
}

// SetDeliveryHandle records the external registration id for a record.
func (s *Store) SetDeliveryHandle(ctx context.Context, id, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Completed {
		return fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	r.DeliveryHandle = &handle
	s.items[id] = r
	s.persistLocked(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE reminders SET delivery_handle=? WHERE id=?`, handle, id)
		return err
	})
	return nil
}

// ClearDeliveryHandle drops any recorded registration id.
func (s *Store) ClearDeliveryHandle(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.DeliveryHandle = nil
	s.items[id] = r
	s.persistLocked(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE reminders SET delivery_handle=NULL WHERE id=?`, id)
		return err
	})
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return domain.Reminder{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// ListActive returns every non-terminal record ordered by due time
// ascending. The slice is a snapshot taken under the store lock.
func (s *Store) ListActive() []domain.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Reminder
	for _, r := range s.items {
		if !r.Completed {
			res = append(res, r)
		}
	}
	sortByDue(res)
	return res
}

// ListUpcoming returns active records for one owner, soonest first,
// capped at limit (0 means no cap).
func (s *Store) ListUpcoming(ownerID string, limit int) []domain.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []domain.Reminder
	for _, r := range s.items {
		if r.Completed {
			continue
		}
		if ownerID != "" && r.OwnerID != ownerID {
			continue
		}
		res = append(res, r)
	}
	sortByDue(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func sortByDue(rs []domain.Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].DueAt.Equal(rs[j].DueAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].DueAt.Before(rs[j].DueAt)
	})
}

// --- persistence ---

func (s *Store) persistLocked(ctx context.Context, fn func(*sql.Tx) error) {
	if err := s.tryPersistLocked(ctx, fn); err != nil {
		log.Printf("[store] persist failed, will re-flush on next mutation: %v", err)
		s.dirty = true
	}
}

func (s *Store) tryPersistLocked(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if s.dirty {
		// A previous write failed; rewrite the full in-memory state,
		// which already includes the current mutation.
		if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
			return err
		}
		for _, r := range s.items {
			if err := insertTx(ctx, tx, r); err != nil {
				return err
			}
		}
	} else if fn != nil {
		if err := fn(tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func insertTx(ctx context.Context, tx *sql.Tx, r domain.Reminder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reminders(id,owner_id,title,description,category,due_at,repeats,rule,completed,delivery_handle,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerID, r.Title, nullable(r.Description), string(r.Category),
		fmtTime(r.DueAt), boolInt(r.Repeats), ruleString(r.Rule), boolInt(r.Completed),
		nullableStringPtr(r.DeliveryHandle), fmtTime(r.CreatedAt), fmtTime(r.UpdatedAt))
	return err
}

func updateTx(ctx context.Context, tx *sql.Tx, r domain.Reminder) error {
	_, err := tx.ExecContext(ctx, `UPDATE reminders SET owner_id=?, title=?, description=?, category=?, due_at=?, repeats=?, rule=?, completed=?, delivery_handle=?, updated_at=? WHERE id=?`,
		r.OwnerID, r.Title, nullable(r.Description), string(r.Category),
		fmtTime(r.DueAt), boolInt(r.Repeats), ruleString(r.Rule), boolInt(r.Completed),
		nullableStringPtr(r.DeliveryHandle), fmtTime(r.UpdatedAt), r.ID)
	return err
}

func fmtTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func ruleString(r *recurrence.Rule) any {
	if r == nil {
		return nil
	}
	return r.String()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
