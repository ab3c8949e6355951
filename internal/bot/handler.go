// Package bot turns incoming chat text into reminder commands or AI replies.
// It is shared by the Telegram and console front ends.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/api"
	"github.com/notexe/assistant-bot/internal/reminder"
)

// ReminderStore is the reminder persistence the handler needs.
type ReminderStore interface {
	Add(ctx context.Context, r reminder.Reminder) (reminder.Reminder, error)
	Get(ctx context.Context, id int64) (reminder.Reminder, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Reminder, error)
}

// Scheduler registers and cancels triggers.
type Scheduler interface {
	Schedule(r reminder.Reminder) error
	Cancel(ctx context.Context, id int64) (bool, error)
}

// Chatter answers free text.
type Chatter interface {
	Reply(ctx context.Context, ownerID int64, prompt string) (string, error)
	Reset(ctx context.Context, ownerID int64) error
}

// Options configures a Handler.
type Options struct {
	Location  *time.Location
	Intervals map[string]reminder.Recurrence
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Handler routes one message to a command or to the assistant.
type Handler struct {
	store     ReminderStore
	scheduler Scheduler
	chat      Chatter
	loc       *time.Location
	intervals map[string]reminder.Recurrence
	now       func() time.Time
	log       zerolog.Logger
}

func NewHandler(store ReminderStore, scheduler Scheduler, chat Chatter, opts Options) *Handler {
	h := &Handler{
		store:     store,
		scheduler: scheduler,
		chat:      chat,
		loc:       opts.Location,
		intervals: opts.Intervals,
		now:       opts.Now,
		log:       opts.Logger.With().Str("comp", "bot").Logger(),
	}
	if h.loc == nil {
		h.loc = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

const dueLayout = "Mon 02 Jan 2006 15:04"

const helpText = `Commands:
/remind <when> <text> - one-time reminder
/every <rule> [when] <text> - recurring reminder
/reminders - list your reminders
/cancel <id> - cancel a reminder
/clear - forget our conversation
/help - this message

<when>: 14:30, today 14:30, tomorrow 9:00, 2026-01-15 09:00, 15.01.2026 09:00, +90m
<rule>: daily, weekly, monthly, 2h, cron(0 9 * * 1-5)%s

Anything else goes to the assistant.`

// Handle processes text from ownerID and returns the reply to send back.
func (h *Handler) Handle(ctx context.Context, ownerID int64, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if !strings.HasPrefix(text, "/") {
		return h.handleChat(ctx, ownerID, text)
	}

	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i] // /remind@my_bot
	}
	args := fields[1:]

	log := h.log.With().Int64("owner_id", ownerID).Str("cmd", cmd).Logger()

	var (
		reply string
		err   error
	)
	switch cmd {
	case "/start", "/help":
		reply = h.help()
	case "/remind":
		reply, err = h.handleRemind(ctx, ownerID, args)
	case "/every":
		reply, err = h.handleEvery(ctx, ownerID, args)
	case "/reminders", "/list":
		reply, err = h.handleList(ctx, ownerID)
	case "/cancel":
		reply, err = h.handleCancel(ctx, ownerID, args)
	case "/clear", "/reset":
		if err = h.chat.Reset(ctx, ownerID); err == nil {
			reply = "🧹 Conversation cleared."
		}
	default:
		return fmt.Sprintf("Unknown command %s. Try /help.", cmd)
	}

	if err != nil {
		var se *reminder.SchedulingError
		if errors.As(err, &se) {
			log.Debug().Err(err).Msg("command rejected")
			return "❌ " + se.Error()
		}
		log.Error().Err(err).Msg("command failed")
		return "😔 Something went wrong, please try again."
	}
	return reply
}

func (h *Handler) help() string {
	names := make([]string, 0, len(h.intervals))
	for name := range h.intervals {
		names = append(names, name)
	}
	extra := ""
	if len(names) > 0 {
		sort.Strings(names)
		extra = ", " + strings.Join(names, ", ")
	}
	return fmt.Sprintf(helpText, extra)
}

func (h *Handler) handleRemind(ctx context.Context, ownerID int64, args []string) (string, error) {
	now := h.now()
	due, rest, err := parseWhen(args, now, h.loc)
	if err != nil {
		return "", err
	}
	if !due.After(now) {
		return "", &reminder.SchedulingError{Reason: "due time is in the past"}
	}
	return h.create(ctx, ownerID, strings.Join(rest, " "), due, reminder.Once)
}

func (h *Handler) handleEvery(ctx context.Context, ownerID int64, args []string) (string, error) {
	rule, rest := splitRule(args)
	rec, err := parseRule(rule, h.intervals)
	if err != nil {
		return "", err
	}

	now := h.now()
	due, msg, err := parseWhen(rest, now, h.loc)
	if err != nil {
		// Interval and cron rules can start without an explicit time.
		if rec.Kind != reminder.KindInterval && rec.Kind != reminder.KindCron {
			return "", err
		}
		if due, err = rec.Advance(now, h.loc); err != nil {
			return "", &reminder.SchedulingError{Reason: "invalid recurrence", Err: err}
		}
		msg = rest
	}
	if !due.After(now) {
		return "", &reminder.SchedulingError{Reason: "due time is in the past"}
	}
	return h.create(ctx, ownerID, strings.Join(msg, " "), due, rec)
}

func (h *Handler) create(ctx context.Context, ownerID int64, message string, due time.Time, rec reminder.Recurrence) (string, error) {
	r := reminder.Reminder{
		OwnerID:    ownerID,
		Message:    strings.TrimSpace(message),
		DueAt:      due.In(h.loc),
		Recurrence: rec,
		Active:     true,
	}
	if err := r.Validate(); err != nil {
		return "", err
	}

	added, err := h.store.Add(ctx, r)
	if err != nil {
		return "", err
	}
	if err := h.scheduler.Schedule(added); err != nil {
		return "", err
	}

	h.log.Info().Int64("owner_id", ownerID).Int64("reminder_id", added.ID).
		Time("due_at", added.DueAt).Str("recurrence", rec.String()).Msg("reminder created")

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Reminder #%d set\n📝 %s\n📅 %s", added.ID, added.Message, added.DueAt.In(h.loc).Format(dueLayout))
	if added.IsRecurring() {
		fmt.Fprintf(&b, "\n🔁 %s", rec.String())
	}
	return b.String(), nil
}

func (h *Handler) handleList(ctx context.Context, ownerID int64) (string, error) {
	list, err := h.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "You have no active reminders.", nil
	}

	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for _, r := range list {
		fmt.Fprintf(&b, "\n#%d  %s", r.ID, r.DueAt.In(h.loc).Format(dueLayout))
		if r.IsRecurring() {
			fmt.Fprintf(&b, "  (%s)", r.Recurrence.String())
		}
		fmt.Fprintf(&b, "\n   %s", r.Message)
	}
	return b.String(), nil
}

func (h *Handler) handleCancel(ctx context.Context, ownerID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /cancel <id>", nil
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Sprintf("%q is not a reminder id.", args[0]), nil
	}

	r, err := h.store.Get(ctx, id)
	if err != nil && !errors.Is(err, reminder.ErrNotFound) {
		return "", err
	}
	if err != nil || r.OwnerID != ownerID || !r.Active {
		return fmt.Sprintf("Reminder #%d not found.", id), nil
	}

	if _, err := h.scheduler.Cancel(ctx, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Reminder #%d cancelled.", id), nil
}

func (h *Handler) handleChat(ctx context.Context, ownerID int64, text string) string {
	reply, err := h.chat.Reply(ctx, ownerID, text)
	if err != nil {
		log := h.log.With().Int64("owner_id", ownerID).Logger()
		if reply != "" {
			log.Warn().Err(err).Msg("reply sent but context not saved")
			return reply
		}
		if api.IsTransient(err) {
			log.Warn().Err(err).Msg("assistant temporarily unavailable")
			return "⏳ The assistant is busy right now. Please try again in a moment."
		}
		log.Error().Err(err).Msg("chat failed")
		return "😔 Sorry, something went wrong. Please try again.\n\nSee /help for commands."
	}
	return reply
}
