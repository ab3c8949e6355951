package api

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Provider defines the interface for AI chat providers.
// Implementations include DeepSeek API, Google Gemini and Ollama local models.
type Provider interface {
	// SendMessage sends a message request and returns the response.
	SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)

	// Name returns the provider name (e.g., "deepseek", "ollama").
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// ErrTransient marks failures worth retrying later: timeouts, rate limits
// and upstream 5xx responses. Callers test it with errors.Is.
var ErrTransient = errors.New("transient provider error")

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// classify wraps err with ErrTransient when it looks temporary.
func classify(err error, status int) error {
	if err == nil {
		return nil
	}
	if status == 429 || status >= 500 {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
