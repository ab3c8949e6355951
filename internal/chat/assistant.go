package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/notexe/assistant-bot/internal/api"
	"github.com/notexe/assistant-bot/internal/config"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Assistant answers free-form chat using the owner's context window.
type Assistant struct {
	provider api.Provider
	contexts *ContextManager
	model    config.ModelConfig
	log      zerolog.Logger
}

func NewAssistant(provider api.Provider, contexts *ContextManager, model config.ModelConfig, logger zerolog.Logger) *Assistant {
	return &Assistant{
		provider: provider,
		contexts: contexts,
		model:    model,
		log:      logger.With().Str("comp", "assistant").Str("provider", provider.Name()).Logger(),
	}
}

// Contexts returns the context manager backing the assistant.
func (a *Assistant) Contexts() *ContextManager {
	return a.contexts
}

// Reply sends prompt together with the owner's window to the provider. The
// exchange is appended to the window only after the provider succeeds, so
// a failed call leaves the context untouched. Provider errors are returned
// as is; use api.IsTransient to detect retryable ones.
func (a *Assistant) Reply(ctx context.Context, ownerID int64, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}

	turns, err := a.contexts.Assemble(ctx, ownerID)
	if err != nil {
		return "", err
	}

	messages := make([]api.Message, 0, len(turns)+1)
	for _, t := range turns {
		messages = append(messages, api.Message{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, api.Message{Role: api.RoleUser, Content: prompt})

	resp, err := a.provider.SendMessage(ctx, api.MessageRequest{
		Messages:    messages,
		System:      a.model.SystemPrompt,
		Model:       a.model.Name,
		MaxTokens:   a.model.MaxTokens,
		Temperature: a.model.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	a.log.Debug().
		Int64("owner_id", ownerID).
		Int("context_turns", len(turns)).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Msg("reply generated")

	if err := a.contexts.Append(ctx, ownerID, RoleUser, prompt); err != nil {
		return reply, err
	}
	if err := a.contexts.Append(ctx, ownerID, RoleAssistant, reply); err != nil {
		return reply, err
	}
	return reply, nil
}

// Reset forgets the owner's conversation.
func (a *Assistant) Reset(ctx context.Context, ownerID int64) error {
	return a.contexts.Reset(ctx, ownerID)
}
