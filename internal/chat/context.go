package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryStore keeps turns beyond the process lifetime.
type HistoryStore interface {
	Append(ctx context.Context, ownerID int64, t Turn) error
	Recent(ctx context.Context, ownerID int64, limit int) ([]Turn, error)
	Clear(ctx context.Context, ownerID int64) error
}

// ContextManager holds one bounded conversation window per owner. Windows
// are created on first use and, when a HistoryStore is set, seeded from
// its most recent turns. Owners never share a lock.
type ContextManager struct {
	size  int
	store HistoryStore
	now   func() time.Time
	log   zerolog.Logger

	mu     sync.Mutex
	owners map[int64]*ownerContext
}

type ownerContext struct {
	mu      sync.Mutex
	history *History
	loaded  bool
}

// NewContextManager creates a manager keeping at most size turns per owner.
// store may be nil.
func NewContextManager(size int, store HistoryStore, logger zerolog.Logger) *ContextManager {
	if size <= 0 {
		size = 1
	}
	return &ContextManager{
		size:   size,
		store:  store,
		now:    time.Now,
		log:    logger.With().Str("comp", "context").Logger(),
		owners: make(map[int64]*ownerContext),
	}
}

// Size returns the window bound.
func (m *ContextManager) Size() int {
	return m.size
}

func (m *ContextManager) owner(id int64) *ownerContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	oc, ok := m.owners[id]
	if !ok {
		oc = &ownerContext{history: NewHistory(m.size)}
		m.owners[id] = oc
	}
	return oc
}

// restoreLocked seeds the window from the store once. Caller holds oc.mu.
func (m *ContextManager) restoreLocked(ctx context.Context, ownerID int64, oc *ownerContext) error {
	if oc.loaded {
		return nil
	}
	if m.store != nil {
		turns, err := m.store.Recent(ctx, ownerID, m.size)
		if err != nil {
			return fmt.Errorf("failed to restore chat context: %w", err)
		}
		for _, t := range turns {
			oc.history.Add(t)
		}
		if len(turns) > 0 {
			m.log.Debug().Int64("owner_id", ownerID).Int("turns", len(turns)).Msg("context restored")
		}
	}
	oc.loaded = true
	return nil
}

// Append adds a turn to the owner's window, evicting the oldest turns once
// the bound is exceeded. The turn is persisted first; on a store error the
// window is left unchanged.
func (m *ContextManager) Append(ctx context.Context, ownerID int64, role, text string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("invalid role %q", role)
	}
	t := Turn{Role: role, Text: text, At: m.now()}

	oc := m.owner(ownerID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if err := m.restoreLocked(ctx, ownerID, oc); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.Append(ctx, ownerID, t); err != nil {
			return fmt.Errorf("failed to persist chat turn: %w", err)
		}
	}
	if n := oc.history.Add(t); n > 0 {
		m.log.Debug().Int64("owner_id", ownerID).Int("evicted", n).Msg("context window full")
	}
	return nil
}

// Assemble returns the owner's window, oldest turn first.
func (m *ContextManager) Assemble(ctx context.Context, ownerID int64) ([]Turn, error) {
	oc := m.owner(ownerID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if err := m.restoreLocked(ctx, ownerID, oc); err != nil {
		return nil, err
	}
	return oc.history.GetAll(), nil
}

// Reset empties the owner's window and stored history.
func (m *ContextManager) Reset(ctx context.Context, ownerID int64) error {
	oc := m.owner(ownerID)
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if m.store != nil {
		if err := m.store.Clear(ctx, ownerID); err != nil {
			return fmt.Errorf("failed to clear chat history: %w", err)
		}
	}
	oc.history.Clear()
	oc.loaded = true
	return nil
}
