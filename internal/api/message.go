package api

import "errors"

// Roles used in Message.Role. Providers that name roles differently map
// them on the way out.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageRequest is a provider-neutral chat completion request. Zero
// MaxTokens or Temperature leave the provider's default in place.
type MessageRequest struct {
	Messages    []Message
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// MessageResponse is the first completion choice.
type MessageResponse struct {
	Content    string
	StopReason string
	Usage      Usage
}

// Usage counts tokens as reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

var (
	errNoModel    = errors.New("request has no model")
	errNoMessages = errors.New("request has no messages")
)

func (r MessageRequest) check() error {
	switch {
	case r.Model == "":
		return errNoModel
	case len(r.Messages) == 0:
		return errNoMessages
	}
	return nil
}

// withSystem returns the turns for providers that carry the system prompt
// as a leading message.
func (r MessageRequest) withSystem() []Message {
	if r.System == "" {
		return r.Messages
	}
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: r.System})
	return append(out, r.Messages...)
}
