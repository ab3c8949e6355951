// Command mcp-reminder provides an MCP server for reminder management.
//
// It shares the assistant's SQLite database. Reminders added or cancelled
// here are picked up by a running assistant on its next store sync.
//
// Usage:
//
//	./mcp-reminder                   # Start MCP server (stdio)
//	./mcp-reminder -config file.yaml # Use a specific config file
//	./mcp-reminder --help            # Show help
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/notexe/assistant-bot/internal/config"
	"github.com/notexe/assistant-bot/internal/reminder"
	"github.com/notexe/assistant-bot/internal/storage"
)

func main() {
	flag.Usage = printHelp
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.Open(context.Background(), storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeout) * time.Millisecond,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	s := reminder.NewServer(reminder.NewStore(db), loc)

	if err := server.ServeStdio(s.MCPServer()); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`MCP Reminder Server - Reminder management via MCP protocol

USAGE:
    mcp-reminder [-config path]   Start MCP server (communicates via stdio)
    mcp-reminder --help           Show this help

CONFIGURATION:
    Uses storage.path and reminders.timezone from the assistant config
    (default: ~/.assistant-bot/config.yaml). ASSISTANT_STORAGE__PATH
    overrides the database path.

TOOLS:
    add_reminder     Schedule a reminder (owner_id, message, due_at, recurrence)
    list_reminders   List an owner's active reminders
    cancel_reminder  Cancel an active reminder`)
}
