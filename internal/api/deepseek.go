package api

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-deepseek/deepseek"
	"github.com/go-deepseek/deepseek/request"

	"github.com/notexe/assistant-bot/internal/config"
)

// DeepSeekProvider sends chat completions through the go-deepseek SDK.
type DeepSeekProvider struct {
	client  deepseek.Client
	timeout time.Duration
}

func NewDeepSeekProvider(cfg config.DeepSeekConfig) (*DeepSeekProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("DeepSeek API key is required")
	}
	client, err := deepseek.NewClient(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create DeepSeek client: %w", err)
	}
	p := &DeepSeekProvider{client: client}
	if cfg.Timeout > 0 {
		p.timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return p, nil
}

// deepseekRequest converts req into the SDK's non-streaming request.
func deepseekRequest(req MessageRequest) *request.ChatCompletionsRequest {
	turns := req.withSystem()
	msgs := make([]*request.Message, len(turns))
	for i, m := range turns {
		msgs[i] = &request.Message{Role: m.Role, Content: m.Content}
	}
	out := &request.ChatCompletionsRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		out.Temperature = &t
	}
	return out
}

// The SDK reports non-200 responses as plain errors carrying the body and
// the status code in their text.
var deepseekStatusRe = regexp.MustCompile(`(?i)(?:http_status_code|status(?:[ _]?code)?)\W{0,3}([1-5]\d\d)\b`)

// deepseekStatus extracts the HTTP status from an SDK error, or 0.
func deepseekStatus(err error) int {
	if err == nil {
		return 0
	}
	m := deepseekStatusRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

func (p *DeepSeekProvider) SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := req.check(); err != nil {
		return nil, fmt.Errorf("invalid DeepSeek request: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.client.CallChatCompletionsChat(ctx, deepseekRequest(req))
	if err != nil {
		return nil, fmt.Errorf("DeepSeek request failed: %w", classify(err, deepseekStatus(err)))
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("DeepSeek returned no choices")
	}

	choice := resp.Choices[0]
	return &MessageResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage:      Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}, nil
}

func (p *DeepSeekProvider) Name() string { return "deepseek" }

func (p *DeepSeekProvider) Close() error { return nil }
