// Command console runs the assistant in the terminal. Reminders for the
// local owner are printed between prompts.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/notexe/assistant-bot/internal/app"
	"github.com/notexe/assistant-bot/internal/config"
	"github.com/notexe/assistant-bot/internal/console"
	"github.com/notexe/assistant-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	provider := flag.String("provider", "", "Provider to use (deepseek, ollama, gemini)")
	modelName := flag.String("model", "", "Model name (overrides config)")
	systemPrompt := flag.String("system-prompt", "", "System prompt (overrides config)")
	owner := flag.Int64("owner", 1, "Owner id used for reminders and chat history")
	logFile := flag.String("log-file", "", "Write logs to this file instead of discarding them")
	noColor := flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *modelName != "" {
		cfg.Model.Name = *modelName
	}
	if *systemPrompt != "" {
		cfg.Model.SystemPrompt = *systemPrompt
	}
	if *noColor {
		cfg.UI.ColoredOutput = false
	}
	cfg.Telegram.Enabled = false

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		if cfg.Provider == config.ProviderDeepSeek {
			fmt.Fprintf(os.Stderr, "Tip: Set DEEPSEEK_API_KEY environment variable or add it to config file\n")
		}
		os.Exit(1)
	}

	if err := run(cfg, *owner, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, owner int64, logFile string) error {
	// Log lines would tear through the prompt, so they go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level}, logOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	formatter := console.NewFormatter(cfg.UI.ColoredOutput, cfg.Provider)
	formatter.SetTimestamps(cfg.UI.ShowTimestamps)
	term, err := console.New(owner, formatter)
	if err != nil {
		return err
	}

	core, err := app.New(ctx, cfg, term, logger)
	if err != nil {
		term.Close()
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := core.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
		}
	}()

	if err := core.Start(ctx); err != nil {
		term.Close()
		return err
	}

	return term.Run(ctx, core.Handler, formatter.FormatWelcome(cfg.Model.Name, core.Location.String()))
}
