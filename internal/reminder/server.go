package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "reminder"
	serverVersion = "1.0.0"
)

// Repository is the part of Store the MCP server needs.
type Repository interface {
	Add(ctx context.Context, r Reminder) (Reminder, error)
	Get(ctx context.Context, id int64) (Reminder, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]Reminder, error)
	Deactivate(ctx context.Context, id int64) error
}

// Server is the MCP server for reminder management. It writes straight to
// the store; a running assistant picks the changes up on its next sync.
type Server struct {
	mcpServer *server.MCPServer
	repo      Repository
	loc       *time.Location
	now       func() time.Time
}

// NewServer creates a new Reminder MCP server backed by the given repository.
// Due times without an offset are read in loc.
func NewServer(repo Repository, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		repo: repo,
		loc:  loc,
		now:  time.Now,
	}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Schedule a reminder for an owner (chat id) with an optional recurrence"),
			mcp.WithNumber("owner_id", mcp.Required(), mcp.Description("Recipient chat id")),
			mcp.WithString("message", mcp.Required(), mcp.Description("Reminder text")),
			mcp.WithString("due_at", mcp.Required(), mcp.Description("Due time, RFC3339 (2025-01-15T09:00:00+03:00) or local 2025-01-15 09:00")),
			mcp.WithString("recurrence", mcp.Description("none, daily, weekly, monthly, 'every 90m' or 'cron 0 9 * * 1-5' (default: none)")),
		),
		s.handleAddReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List an owner's active reminders ordered by due time"),
			mcp.WithNumber("owner_id", mcp.Required(), mcp.Description("Recipient chat id")),
		),
		s.handleListReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("cancel_reminder",
			mcp.WithDescription("Cancel an active reminder"),
			mcp.WithNumber("owner_id", mcp.Required(), mcp.Description("Recipient chat id")),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleCancelReminder,
	)
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID := int64(req.GetFloat("owner_id", 0))
	message := req.GetString("message", "")
	dueStr := req.GetString("due_at", "")
	recurStr := req.GetString("recurrence", "")

	if ownerID == 0 {
		return mcp.NewToolResultError("owner_id is required"), nil
	}
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	dueAt, err := s.parseDue(dueStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !dueAt.After(s.now()) {
		return mcp.NewToolResultError("due_at must be in the future"), nil
	}

	rec, err := ParseRecurrence(recurStr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid recurrence: %v", err)), nil
	}

	r := Reminder{
		OwnerID:    ownerID,
		Message:    message,
		DueAt:      dueAt,
		Recurrence: rec,
		Active:     true,
	}
	if err := r.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	added, err := s.repo.Add(ctx, r)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add reminder: %v", err)), nil
	}

	output, _ := json.MarshalIndent(added, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleListReminders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID := int64(req.GetFloat("owner_id", 0))
	if ownerID == 0 {
		return mcp.NewToolResultError("owner_id is required"), nil
	}

	reminders, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reminders: %v", err)), nil
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}

	output, _ := json.MarshalIndent(reminders, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleCancelReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID := int64(req.GetFloat("owner_id", 0))
	idFloat := req.GetFloat("id", -1)
	if ownerID == 0 || idFloat <= 0 {
		return mcp.NewToolResultError("owner_id and a positive id are required"), nil
	}
	id := int64(idFloat)

	r, err := s.repo.Get(ctx, id)
	if err != nil || r.OwnerID != ownerID || !r.Active {
		if err != nil && !errors.Is(err, ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("failed to cancel reminder: %v", err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("reminder %d not found", id)), nil
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel reminder: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Reminder %d cancelled.", id)), nil
}

func (s *Server) parseDue(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("due_at is required")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(s.loc), nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", v, s.loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due_at %q (use RFC3339 or YYYY-MM-DD HH:MM)", v)
}
