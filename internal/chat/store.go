package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLHistory stores chat turns in the chat_history table, keeping at most
// maxHistory rows per owner.
type SQLHistory struct {
	db         *sql.DB
	maxHistory int
}

// NewSQLHistory wraps a database opened by storage.Open.
func NewSQLHistory(db *sql.DB, maxHistory int) *SQLHistory {
	return &SQLHistory{db: db, maxHistory: maxHistory}
}

func (s *SQLHistory) Append(ctx context.Context, ownerID int64, t Turn) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (owner_id, role, message, created_at) VALUES (?, ?, ?, ?)`,
		ownerID, t.Role, t.Text, t.At.UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert chat turn: %w", err)
	}

	if s.maxHistory <= 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_history
		WHERE owner_id = ? AND id NOT IN (
			SELECT id FROM chat_history WHERE owner_id = ? ORDER BY id DESC LIMIT ?
		)
	`, ownerID, ownerID, s.maxHistory); err != nil {
		return fmt.Errorf("failed to prune chat history: %w", err)
	}
	return nil
}

// Recent returns up to limit of the owner's latest turns, oldest first.
func (s *SQLHistory) Recent(ctx context.Context, ownerID int64, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, message, created_at FROM (
			SELECT id, role, message, created_at FROM chat_history
			WHERE owner_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t  Turn
			at int64
		)
		if err := rows.Scan(&t.Role, &t.Text, &at); err != nil {
			return nil, fmt.Errorf("failed to scan chat turn: %w", err)
		}
		t.At = time.UnixMilli(at).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLHistory) Clear(ctx context.Context, ownerID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}
