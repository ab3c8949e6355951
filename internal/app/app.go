// Package app wires storage, the AI provider, the scheduler and the command
// handler into one runnable core shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/api"
	"github.com/notexe/assistant-bot/internal/bot"
	"github.com/notexe/assistant-bot/internal/chat"
	"github.com/notexe/assistant-bot/internal/clock"
	"github.com/notexe/assistant-bot/internal/config"
	"github.com/notexe/assistant-bot/internal/delivery"
	"github.com/notexe/assistant-bot/internal/reminder"
	"github.com/notexe/assistant-bot/internal/scheduler"
	"github.com/notexe/assistant-bot/internal/storage"
)

type App struct {
	DB         *sql.DB
	Reminders  *reminder.Store
	Contexts   *chat.ContextManager
	Assistant  *chat.Assistant
	Dispatcher *delivery.Dispatcher
	Scheduler  *scheduler.Scheduler
	Handler    *bot.Handler
	Location   *time.Location

	provider api.Provider
	log      zerolog.Logger
}

// New builds the core. Notifications leave through transport.
func New(ctx context.Context, cfg *config.Config, transport delivery.Transport, logger zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	intervals, err := cfg.Intervals()
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	provider, err := api.NewProvider(ctx, cfg.GetProviderConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	var history chat.HistoryStore
	if cfg.Chat.Persist {
		history = chat.NewSQLHistory(db, cfg.Chat.MaxHistory)
	}
	contexts := chat.NewContextManager(cfg.Chat.ContextWindow, history, logger)
	assistant := chat.NewAssistant(provider, contexts, cfg.Model, logger)

	reminders := reminder.NewStore(db)
	dispatcher := delivery.NewDispatcher(transport, delivery.Options{
		Timeout:    cfg.DeliveryTimeout(),
		RatePerSec: cfg.Reminders.RatePerSec,
		Logger:     logger,
	})
	sched := scheduler.New(reminders, dispatcher, scheduler.Options{
		Location:     loc,
		Clock:        clock.Real(),
		Logger:       logger,
		SyncInterval: cfg.SyncInterval(),
	})
	handler := bot.NewHandler(reminders, sched, assistant, bot.Options{
		Location:  loc,
		Intervals: intervals,
		Logger:    logger,
	})

	return &App{
		DB:         db,
		Reminders:  reminders,
		Contexts:   contexts,
		Assistant:  assistant,
		Dispatcher: dispatcher,
		Scheduler:  sched,
		Handler:    handler,
		Location:   loc,
		provider:   provider,
		log:        logger.With().Str("comp", "app").Logger(),
	}, nil
}

// Start seeds the scheduler from storage and starts its loop.
func (a *App) Start(ctx context.Context) error {
	n, err := a.Scheduler.Load(ctx)
	if err != nil {
		return err
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	a.log.Info().Int("reminders", n).Str("timezone", a.Location.String()).Str("provider", a.provider.Name()).Msg("assistant started")
	return nil
}

// Close stops the scheduler and releases the provider and database.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(
		a.Scheduler.Stop(ctx),
		a.provider.Close(),
		a.DB.Close(),
	)
}
