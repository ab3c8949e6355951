package reminder

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides SQLite-backed storage for reminders. The schema is applied
// by storage.Open.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `SELECT id, owner_id, message, due_at, timezone, recurrence, active, created_at FROM reminders`

// Add inserts a new reminder and returns it with the assigned ID.
func (s *Store) Add(ctx context.Context, r Reminder) (Reminder, error) {
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (owner_id, message, due_at, timezone, recurrence, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.OwnerID, r.Message, r.DueAt.UnixMilli(), r.DueAt.Location().String(),
		r.Recurrence.String(), r.Active, r.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Reminder{}, fmt.Errorf("failed to insert reminder: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Reminder{}, fmt.Errorf("failed to get inserted ID: %w", err)
	}
	r.ID = id
	return r, nil
}

// LoadActive returns every active reminder ordered by due time.
func (s *Store) LoadActive(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE active = 1 ORDER BY due_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListByOwner returns the owner's active reminders ordered by due time.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE owner_id = ? AND active = 1 ORDER BY due_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// Get returns a single reminder by ID.
func (s *Store) Get(ctx context.Context, id int64) (Reminder, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return Reminder{}, fmt.Errorf("failed to get reminder: %w", err)
	}
	defer rows.Close()

	list, err := scanReminders(rows)
	if err != nil {
		return Reminder{}, err
	}
	if len(list) == 0 {
		return Reminder{}, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return list[0], nil
}

// Save persists the mutable fields (due time and active flag) of an active
// reminder. A reminder deactivated in the meantime, possibly by another
// process sharing the database, is left alone and ErrNotFound is returned.
func (s *Store) Save(ctx context.Context, r Reminder) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET due_at = ?, timezone = ?, active = ?, updated_at = ? WHERE id = ? AND active = 1
	`, r.DueAt.UnixMilli(), r.DueAt.Location().String(), r.Active, s.now().UTC().UnixMilli(), r.ID)
	if err != nil {
		return fmt.Errorf("failed to save reminder %d: %w", r.ID, err)
	}
	return expectRow(result, r.ID)
}

// Deactivate marks a reminder inactive. Deactivating an inactive reminder
// is not an error.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET active = 0, updated_at = ? WHERE id = ?`, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate reminder %d: %w", id, err)
	}
	return expectRow(result, id)
}

func expectRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}

// scanReminders reads multiple rows into a slice of Reminder.
func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var reminders []Reminder
	for rows.Next() {
		var (
			r                  Reminder
			dueAt, createdAt   int64
			timezone, recurStr string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Message, &dueAt, &timezone,
			&recurStr, &r.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}

		loc, err := time.LoadLocation(timezone)
		if err != nil {
			loc = time.UTC
		}
		r.DueAt = time.UnixMilli(dueAt).In(loc)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()

		rec, err := ParseRecurrence(recurStr)
		if err != nil {
			return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
		}
		r.Recurrence = rec

		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
