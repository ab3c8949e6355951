package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/chat"
	"github.com/notexe/assistant-bot/internal/reminder"
)

type stubReminders struct {
	items map[int64]reminder.Reminder
}

func (s *stubReminders) Get(ctx context.Context, id int64) (reminder.Reminder, error) {
	r, ok := s.items[id]
	if !ok {
		return reminder.Reminder{}, fmt.Errorf("reminder %d: %w", id, reminder.ErrNotFound)
	}
	return r, nil
}

func (s *stubReminders) ListByOwner(ctx context.Context, ownerID int64) ([]reminder.Reminder, error) {
	var out []reminder.Reminder
	for _, r := range s.items {
		if r.OwnerID == ownerID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubScheduler struct {
	pending   []reminder.Reminder
	cancelled []int64
}

func (s *stubScheduler) Cancel(ctx context.Context, id int64) (bool, error) {
	s.cancelled = append(s.cancelled, id)
	return true, nil
}

func (s *stubScheduler) Pending() []reminder.Reminder { return s.pending }

type stubContexts struct{}

func (stubContexts) Assemble(ctx context.Context, ownerID int64) ([]chat.Turn, error) {
	if ownerID == 1 {
		return []chat.Turn{{Role: chat.RoleUser, Text: "hi"}, {Role: chat.RoleAssistant, Text: "hello"}}, nil
	}
	return nil, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *stubScheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	due := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	reminders := &stubReminders{items: map[int64]reminder.Reminder{
		1: {ID: 1, OwnerID: 1, Message: "stretch", DueAt: due, Recurrence: reminder.Daily, Active: true},
		2: {ID: 2, OwnerID: 2, Message: "other", DueAt: due, Active: true},
	}}
	sched := &stubScheduler{pending: []reminder.Reminder{reminders.items[1]}}

	router := gin.New()
	NewHandler(reminders, sched, stubContexts{}, zerolog.Nop()).RegisterRoutes(router)
	return router, sched
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)
	w := doRequest(router, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Pending int    `json:"pending"`
		NextDue string `json:"next_due"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Pending != 1 || body.NextDue == "" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestListReminders(t *testing.T) {
	router, _ := setupRouter(t)

	w := doRequest(router, http.MethodGet, "/api/owners/1/reminders")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Reminders []reminder.Reminder `json:"reminders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reminders) != 1 || body.Reminders[0].Message != "stretch" || body.Reminders[0].Recurrence != reminder.Daily {
		t.Fatalf("unexpected reminders %+v", body.Reminders)
	}

	w = doRequest(router, http.MethodGet, "/api/owners/3/reminders")
	if w.Code != http.StatusOK || w.Body.String() != `{"reminders":[]}` {
		t.Fatalf("unexpected empty response %d %s", w.Code, w.Body.String())
	}

	if w := doRequest(router, http.MethodGet, "/api/owners/abc/reminders"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCancelReminder(t *testing.T) {
	router, sched := setupRouter(t)

	if w := doRequest(router, http.MethodDelete, "/api/owners/1/reminders/2"); w.Code != http.StatusNotFound {
		t.Fatalf("foreign reminder: expected 404, got %d", w.Code)
	}
	if w := doRequest(router, http.MethodDelete, "/api/owners/1/reminders/99"); w.Code != http.StatusNotFound {
		t.Fatalf("missing reminder: expected 404, got %d", w.Code)
	}
	if w := doRequest(router, http.MethodDelete, "/api/owners/1/reminders/x"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}

	w := doRequest(router, http.MethodDelete, "/api/owners/1/reminders/1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(sched.cancelled) != 1 || sched.cancelled[0] != 1 {
		t.Fatalf("cancel not forwarded: %v", sched.cancelled)
	}
}

func TestGetContext(t *testing.T) {
	router, _ := setupRouter(t)

	w := doRequest(router, http.MethodGet, "/api/owners/1/context")
	var body struct {
		OwnerID int64       `json:"owner_id"`
		Turns   []chat.Turn `json:"turns"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.OwnerID != 1 || len(body.Turns) != 2 || body.Turns[0].Text != "hi" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/api/owners/2/context")
	if w.Body.String() != `{"owner_id":2,"turns":[]}` {
		t.Fatalf("unexpected empty context %s", w.Body.String())
	}
}
