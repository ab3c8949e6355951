// Command assistant runs the personal assistant bot: Telegram chat, the
// reminder scheduler and, optionally, the status HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notexe/assistant-bot/internal/app"
	"github.com/notexe/assistant-bot/internal/config"
	"github.com/notexe/assistant-bot/internal/httpapi"
	"github.com/notexe/assistant-bot/internal/logging"
	"github.com/notexe/assistant-bot/internal/telegram"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	provider := flag.String("provider", "", "Provider to use (deepseek, ollama, gemini)")
	modelName := flag.String("model", "", "Model name (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *modelName != "" {
		cfg.Model.Name = *modelName
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Telegram.Enabled {
		fmt.Fprintln(os.Stderr, "Telegram is disabled; use the console binary for local use")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Console: cfg.Log.Console}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.BotToken,
		PollTimeout: time.Duration(cfg.Telegram.PollTimeout) * time.Second,
		SendTimeout: cfg.TelegramSendTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	core, err := app.New(ctx, cfg, tg, logger)
	if err != nil {
		return err
	}
	if err := core.Start(ctx); err != nil {
		_ = core.Close(context.Background())
		return err
	}
	if err := tg.Start(ctx, core.Handler); err != nil {
		_ = core.Close(context.Background())
		return err
	}

	var httpSrv *httpapi.Server
	if cfg.HTTP.Enabled {
		h := httpapi.NewHandler(core.Reminders, core.Scheduler, core.Contexts, logger)
		httpSrv = httpapi.NewServer(cfg.HTTP.Addr, h, logger)
		httpSrv.Start()
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errs := []error{tg.Stop(shutdownCtx)}
	if httpSrv != nil {
		errs = append(errs, httpSrv.Shutdown(shutdownCtx))
	}
	errs = append(errs, core.Close(shutdownCtx))
	return errors.Join(errs...)
}
