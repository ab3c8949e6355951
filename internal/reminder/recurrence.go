package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies a recurrence rule.
type Kind string

const (
	KindNone     Kind = "none"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindMonthly  Kind = "monthly"
	KindInterval Kind = "every"
	KindCron     Kind = "cron"
)

// MinInterval is the shortest accepted custom interval.
const MinInterval = time.Minute

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Recurrence computes the next due time after a firing.
//
// Calendar kinds (daily, weekly, monthly) step in wall-clock time of the
// given location, so 15:30 local stays 15:30 local across DST changes.
// Interval steps are absolute durations. Cron specs are evaluated in the
// location as well.
type Recurrence struct {
	Kind  Kind
	Every time.Duration
	Spec  string
}

// Once is the recurrence of a one-shot reminder.
var Once = Recurrence{Kind: KindNone}

// Daily, Weekly and Monthly are the calendar recurrences.
var (
	Daily   = Recurrence{Kind: KindDaily}
	Weekly  = Recurrence{Kind: KindWeekly}
	Monthly = Recurrence{Kind: KindMonthly}
)

// Every returns a fixed interval recurrence.
func Every(d time.Duration) Recurrence {
	return Recurrence{Kind: KindInterval, Every: d}
}

// Cron returns a recurrence driven by a five-field cron expression.
func Cron(spec string) Recurrence {
	return Recurrence{Kind: KindCron, Spec: strings.TrimSpace(spec)}
}

// Validate reports whether the rule is usable.
func (r Recurrence) Validate() error {
	switch r.Kind {
	case KindNone, KindDaily, KindWeekly, KindMonthly:
		return nil
	case KindInterval:
		if r.Every < MinInterval {
			return fmt.Errorf("interval %s is shorter than %s", r.Every, MinInterval)
		}
		return nil
	case KindCron:
		if _, err := cronParser.Parse(r.Spec); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", r.Spec, err)
		}
		return nil
	case "":
		return errors.New("recurrence kind is empty")
	default:
		return fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
}

// Advance returns the occurrence following due. It returns the zero time
// for one-shot reminders.
func (r Recurrence) Advance(due time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := due.In(loc)
	switch r.Kind {
	case KindNone:
		return time.Time{}, nil
	case KindDaily:
		return local.AddDate(0, 0, 1), nil
	case KindWeekly:
		return local.AddDate(0, 0, 7), nil
	case KindMonthly:
		return local.AddDate(0, 1, 0), nil
	case KindInterval:
		if r.Every < MinInterval {
			return time.Time{}, fmt.Errorf("interval %s is shorter than %s", r.Every, MinInterval)
		}
		return local.Add(r.Every), nil
	case KindCron:
		sched, err := cronParser.Parse(r.Spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", r.Spec, err)
		}
		next := sched.Next(local)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron spec %q has no future occurrence", r.Spec)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
}

// NextAfter advances due until the result is strictly after now. Missed
// occurrences are skipped, so only the next one is ever scheduled.
func (r Recurrence) NextAfter(due, now time.Time, loc *time.Location) (time.Time, error) {
	switch r.Kind {
	case KindNone:
		return time.Time{}, nil
	case KindCron:
		return r.nextCron(due, now, loc)
	}
	if r.Kind == KindInterval && r.Every >= MinInterval && now.Sub(due) > r.Every {
		// Jump straight over the missed intervals.
		skip := now.Sub(due) / r.Every
		due = due.Add((skip - 1) * r.Every)
	}
	next, err := r.Advance(due, loc)
	if err != nil {
		return time.Time{}, err
	}
	for !next.After(now) {
		if next, err = r.Advance(next, loc); err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}

// nextCron asks the parsed schedule for the first activation after
// max(due, now) directly instead of stepping through missed ones.
func (r Recurrence) nextCron(due, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cronParser.Parse(r.Spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", r.Spec, err)
	}
	from := now
	if due.After(now) {
		from = due
	}
	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron spec %q has no future occurrence", r.Spec)
	}
	return next, nil
}

// String returns the persisted form: "none", "daily", "weekly", "monthly",
// "every 1h30m0s" or "cron <spec>".
func (r Recurrence) String() string {
	switch r.Kind {
	case KindInterval:
		return string(KindInterval) + " " + r.Every.String()
	case KindCron:
		return string(KindCron) + " " + r.Spec
	case "":
		return string(KindNone)
	default:
		return string(r.Kind)
	}
}

// ParseRecurrence parses the persisted form produced by String.
func ParseRecurrence(s string) (Recurrence, error) {
	s = strings.TrimSpace(s)
	head, rest, _ := strings.Cut(s, " ")
	switch Kind(strings.ToLower(head)) {
	case "", KindNone:
		return Once, nil
	case KindDaily:
		return Daily, nil
	case KindWeekly:
		return Weekly, nil
	case KindMonthly:
		return Monthly, nil
	case KindInterval:
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return Recurrence{}, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		r := Every(d)
		return r, r.Validate()
	case KindCron:
		r := Cron(rest)
		return r, r.Validate()
	default:
		return Recurrence{}, fmt.Errorf("unknown recurrence %q", s)
	}
}

func (r Recurrence) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Recurrence) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRecurrence(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
