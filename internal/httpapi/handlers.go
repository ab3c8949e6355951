// Package httpapi exposes a small admin and status API over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/chat"
	"github.com/notexe/assistant-bot/internal/reminder"
)

// Reminders reads persisted reminders.
type Reminders interface {
	Get(ctx context.Context, id int64) (reminder.Reminder, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Reminder, error)
}

// Scheduler is the part of the trigger scheduler the API touches.
type Scheduler interface {
	Cancel(ctx context.Context, id int64) (bool, error)
	Pending() []reminder.Reminder
}

// Contexts reads chat windows.
type Contexts interface {
	Assemble(ctx context.Context, ownerID int64) ([]chat.Turn, error)
}

type Handler struct {
	reminders Reminders
	scheduler Scheduler
	contexts  Contexts
	started   time.Time
	log       zerolog.Logger
}

func NewHandler(reminders Reminders, scheduler Scheduler, contexts Contexts, logger zerolog.Logger) *Handler {
	return &Handler{
		reminders: reminders,
		scheduler: scheduler,
		contexts:  contexts,
		started:   time.Now(),
		log:       logger.With().Str("comp", "http").Logger(),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	owner := api.Group("/owners/:owner")
	owner.GET("/reminders", h.listReminders)
	owner.DELETE("/reminders/:id", h.cancelReminder)
	owner.GET("/context", h.getContext)
}

func (h *Handler) health(c *gin.Context) {
	pending := h.scheduler.Pending()
	body := gin.H{
		"status":  "ok",
		"pending": len(pending),
		"uptime":  time.Since(h.started).Truncate(time.Second).String(),
	}
	if len(pending) > 0 {
		body["next_due"] = pending[0].DueAt
	}
	c.JSON(http.StatusOK, body)
}

func ownerParam(c *gin.Context) (int64, bool) {
	owner, err := strconv.ParseInt(c.Param("owner"), 10, 64)
	if err != nil || owner == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return 0, false
	}
	return owner, true
}

func (h *Handler) listReminders(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	list, err := h.reminders.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		h.log.Error().Err(err).Int64("owner_id", owner).Msg("list reminders failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reminders"})
		return
	}
	if list == nil {
		list = make([]reminder.Reminder, 0)
	}
	c.JSON(http.StatusOK, gin.H{"reminders": list})
}

func (h *Handler) cancelReminder(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reminder id"})
		return
	}

	r, err := h.reminders.Get(c.Request.Context(), id)
	if err != nil && !errors.Is(err, reminder.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reminder"})
		return
	}
	if err != nil || r.OwnerID != owner || !r.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
		return
	}

	pending, err := h.scheduler.Cancel(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("reminder_id", id).Msg("cancel failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel reminder"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "cancelled": true, "was_pending": pending})
}

func (h *Handler) getContext(c *gin.Context) {
	owner, ok := ownerParam(c)
	if !ok {
		return
	}
	turns, err := h.contexts.Assemble(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load context"})
		return
	}
	if turns == nil {
		turns = make([]chat.Turn, 0)
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": owner, "turns": turns})
}
