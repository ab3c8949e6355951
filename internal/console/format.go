package console

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")) // Soft green

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Coral red
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")) // Warm yellow

	SystemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("183")). // Soft purple
			Italic(true)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Gray

	ReminderBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("215")). // Orange
				Padding(0, 1)
)

type Formatter struct {
	colored    bool
	timestamps bool
	provider   string // display name (e.g., "DeepSeek", "Ollama")
	now        func() time.Time
}

func NewFormatter(colored bool, provider string) *Formatter {
	return &Formatter{
		colored:  colored,
		provider: formatProviderName(provider),
		now:      time.Now,
	}
}

// SetTimestamps prefixes replies, system lines and reminders with the local
// time they were printed at.
func (f *Formatter) SetTimestamps(on bool) {
	f.timestamps = on
}

func (f *Formatter) stamp() string {
	if !f.timestamps {
		return ""
	}
	ts := "[" + f.now().Format("15:04") + "] "
	if f.colored {
		return TimestampStyle.Render(ts)
	}
	return ts
}

// formatProviderName returns a display-friendly provider name.
func formatProviderName(provider string) string {
	switch provider {
	case "deepseek":
		return "DeepSeek"
	case "ollama":
		return "Ollama"
	case "gemini":
		return "Gemini"
	case "":
		return "Assistant"
	default:
		return strings.ToUpper(provider[:1]) + provider[1:]
	}
}

func (f *Formatter) FormatAssistantMessage(msg string) string {
	prefix := f.provider + ": "
	if f.colored {
		prefix = AssistantStyle.Render(prefix)
		msg = renderMarkdown(msg)
	}
	return f.stamp() + prefix + msg
}

func (f *Formatter) FormatError(err error) string {
	prefix := "Error: "
	if f.colored {
		prefix = ErrorStyle.Render(prefix)
	}
	return prefix + err.Error()
}

func (f *Formatter) FormatInfo(info string) string {
	if f.colored {
		return InfoStyle.Render(info)
	}
	return info
}

func (f *Formatter) FormatSystem(msg string) string {
	if f.colored {
		msg = SystemStyle.Render(msg)
	}
	return f.stamp() + msg
}

// FormatReminder frames a fired reminder so it stands out between prompts.
func (f *Formatter) FormatReminder(text string) string {
	if f.colored {
		box := ReminderBoxStyle.Render(text)
		if ts := f.stamp(); ts != "" {
			return ts + "\n" + box
		}
		return box
	}
	return "\n" + f.stamp() + text + "\n"
}

func (f *Formatter) FormatWelcome(model, timezone string) string {
	title := fmt.Sprintf("Assistant • %s", f.provider)
	lines := []string{
		title,
		"Model: " + model,
		"Timezone: " + timezone,
		"",
		"Type /help for commands, /quit to exit",
	}
	if !f.colored {
		return "\n" + strings.Join(lines, "\n") + "\n\n"
	}

	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1)

	lines[0] = titleStyle.Render(title)
	for i := 1; i < len(lines); i++ {
		lines[i] = labelStyle.Render(lines[i])
	}
	return "\n" + box.Render(strings.Join(lines, "\n")) + "\n\n"
}

// renderMarkdown renders model output for the terminal, falling back to
// the raw text when glamour cannot.
func renderMarkdown(content string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimSpace(rendered)
}
