package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Reminder represents a scheduled notification for one owner.
//
// ID, OwnerID, Message and Recurrence never change after creation. DueAt is
// the next occurrence and is advanced after each firing of a recurring
// reminder. Active turns false when a one-shot reminder fires or when the
// reminder is cancelled.
type Reminder struct {
	ID         int64      `json:"id"`
	OwnerID    int64      `json:"owner_id"`
	Message    string     `json:"message"`
	DueAt      time.Time  `json:"due_at"`
	Recurrence Recurrence `json:"recurrence"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsRecurring reports whether the reminder fires more than once.
func (r Reminder) IsRecurring() bool {
	return r.Recurrence.Kind != KindNone
}

// Validate checks that the reminder can be handed to the scheduler.
func (r Reminder) Validate() error {
	if r.OwnerID == 0 {
		return &SchedulingError{ID: r.ID, Reason: "owner is required"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &SchedulingError{ID: r.ID, Reason: "message is required"}
	}
	if r.DueAt.IsZero() {
		return &SchedulingError{ID: r.ID, Reason: "due time is required"}
	}
	if !r.Active {
		return &SchedulingError{ID: r.ID, Reason: "reminder is not active"}
	}
	if err := r.Recurrence.Validate(); err != nil {
		return &SchedulingError{ID: r.ID, Reason: "invalid recurrence", Err: err}
	}
	return nil
}

// Notification renders the text delivered to the owner when r fires.
func Notification(r Reminder) string {
	return fmt.Sprintf("⏰ Reminder\n\n%s", r.Message)
}
