package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/notexe/assistant-bot/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server over its /api/chat endpoint
// with streaming disabled.
type OllamaProvider struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// NewOllamaProvider creates a provider for the server at cfg.BaseURL.
func NewOllamaProvider(cfg config.OllamaConfig) (*OllamaProvider, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaURL
	}
	endpoint, err := url.JoinPath(base, "api", "chat")
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL %q: %w", base, err)
	}
	timeout := 120 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &OllamaProvider{endpoint: endpoint, timeout: timeout, http: &http.Client{}}, nil
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaReply covers both the success body and the {"error": "..."} body
// Ollama sends with non-200 statuses.
type ollamaReply struct {
	Message         Message `json:"message"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

// ollamaOptions maps the generation settings onto Ollama's model options.
// Unset values are left out so the Modelfile defaults apply.
func ollamaOptions(req MessageRequest) map[string]any {
	opts := make(map[string]any, 2)
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (p *OllamaProvider) SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := req.check(); err != nil {
		return nil, fmt.Errorf("invalid Ollama request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaRequest{
		Model:    req.Model,
		Messages: req.withSystem(),
		Options:  ollamaOptions(req),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode Ollama request: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build Ollama request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("Ollama request failed: %w", classify(err, 0))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read Ollama response: %w", classify(err, 0))
	}
	var reply ollamaReply
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode != http.StatusOK {
		msg := reply.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, classify(fmt.Errorf("Ollama returned %d: %s", resp.StatusCode, msg), resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode Ollama response: %w", decodeErr)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("Ollama error: %s", reply.Error)
	}

	return &MessageResponse{
		Content:    reply.Message.Content,
		StopReason: reply.DoneReason,
		Usage:      Usage{InputTokens: reply.PromptEvalCount, OutputTokens: reply.EvalCount},
	}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}
