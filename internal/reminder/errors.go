package reminder

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a reminder id does not exist (or belongs to
// another owner).
var ErrNotFound = errors.New("reminder not found")

// SchedulingError rejects a reminder at registration time. The reminder is
// not scheduled.
type SchedulingError struct {
	ID     int64
	Reason string
	Err    error
}

func (e *SchedulingError) Error() string {
	msg := "cannot schedule reminder"
	if e.ID != 0 {
		msg = fmt.Sprintf("cannot schedule reminder %d", e.ID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Reason)
}

func (e *SchedulingError) Unwrap() error { return e.Err }
