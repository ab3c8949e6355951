package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/notexe/assistant-bot/internal/reminder"
)

var (
	clockRe   = regexp.MustCompile(`^([01]?\d|2[0-3])[:.]([0-5]\d)$`)
	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dotDateRe = regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{4}$`)
)

// parseWhen reads a due time from the head of args and returns the
// remaining words. Accepted forms, all in loc:
//
//	+90m | HH:MM | today HH:MM | tomorrow HH:MM | YYYY-MM-DD HH:MM | DD.MM.YYYY HH:MM
//
// A bare HH:MM that already passed today means tomorrow.
func parseWhen(args []string, now time.Time, loc *time.Location) (time.Time, []string, error) {
	if len(args) == 0 {
		return time.Time{}, nil, invalidWhen("missing time")
	}
	now = now.In(loc)
	head := strings.ToLower(args[0])

	switch {
	case strings.HasPrefix(head, "+"):
		d, err := time.ParseDuration(head[1:])
		if err != nil || d <= 0 {
			return time.Time{}, nil, invalidWhen(fmt.Sprintf("bad offset %q", args[0]))
		}
		return now.Add(d), args[1:], nil

	case head == "today" || head == "bugün" || head == "tomorrow" || head == "yarın":
		if len(args) < 2 {
			return time.Time{}, nil, invalidWhen("missing HH:MM after " + head)
		}
		day := now
		if head == "tomorrow" || head == "yarın" {
			day = now.AddDate(0, 0, 1)
		}
		t, err := atClock(day, args[1], loc)
		if err != nil {
			return time.Time{}, nil, err
		}
		return t, args[2:], nil

	case isoDateRe.MatchString(head), dotDateRe.MatchString(head):
		if len(args) < 2 {
			return time.Time{}, nil, invalidWhen("missing HH:MM after date")
		}
		layout := "2006-01-02"
		if dotDateRe.MatchString(head) {
			layout = "2.1.2006"
		}
		day, err := time.ParseInLocation(layout, head, loc)
		if err != nil {
			return time.Time{}, nil, invalidWhen(fmt.Sprintf("bad date %q", args[0]))
		}
		t, err := atClock(day, args[1], loc)
		if err != nil {
			return time.Time{}, nil, err
		}
		return t, args[2:], nil

	case clockRe.MatchString(head):
		t, err := atClock(now, head, loc)
		if err != nil {
			return time.Time{}, nil, err
		}
		if !t.After(now) {
			t = time.Date(now.Year(), now.Month(), now.Day()+1, t.Hour(), t.Minute(), 0, 0, loc)
		}
		return t, args[1:], nil
	}

	return time.Time{}, nil, invalidWhen(fmt.Sprintf("unrecognised time %q", args[0]))
}

// atClock returns day's calendar date at the HH:MM wall clock time in loc.
func atClock(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	m := clockRe.FindStringSubmatch(hhmm)
	if m == nil {
		return time.Time{}, invalidWhen(fmt.Sprintf("bad clock time %q", hhmm))
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, mm, 0, 0, loc), nil
}

func invalidWhen(reason string) error {
	return &reminder.SchedulingError{Reason: "invalid due time", Err: errors.New(reason)}
}

// splitRule takes the recurrence rule off the head of args. A cron rule is
// written cron(<five fields>) and may span several words.
func splitRule(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}
	if !strings.HasPrefix(strings.ToLower(args[0]), "cron(") {
		return args[0], args[1:]
	}
	for i, a := range args {
		if strings.HasSuffix(a, ")") {
			return strings.Join(args[:i+1], " "), args[i+1:]
		}
	}
	return strings.Join(args, " "), nil
}

// parseRule resolves a user supplied recurrence rule: daily, weekly,
// monthly, a named interval, a duration such as 90m, or cron(...).
func parseRule(rule string, named map[string]reminder.Recurrence) (reminder.Recurrence, error) {
	rule = strings.TrimSpace(rule)
	key := strings.ToLower(rule)
	if key == "" {
		return reminder.Recurrence{}, invalidRule("missing rule")
	}

	var rec reminder.Recurrence
	switch key {
	case "daily", "day":
		rec = reminder.Daily
	case "weekly", "week":
		rec = reminder.Weekly
	case "monthly", "month":
		rec = reminder.Monthly
	default:
		if r, ok := named[key]; ok {
			rec = r
			break
		}
		if strings.HasPrefix(key, "cron(") && strings.HasSuffix(key, ")") {
			rec = reminder.Cron(rule[len("cron(") : len(rule)-1])
			break
		}
		d, err := time.ParseDuration(key)
		if err != nil {
			return reminder.Recurrence{}, invalidRule(fmt.Sprintf("unknown rule %q", rule))
		}
		rec = reminder.Every(d)
	}

	if err := rec.Validate(); err != nil {
		return reminder.Recurrence{}, &reminder.SchedulingError{Reason: "invalid recurrence", Err: err}
	}
	return rec, nil
}

func invalidRule(reason string) error {
	return &reminder.SchedulingError{Reason: "invalid recurrence", Err: errors.New(reason)}
}
