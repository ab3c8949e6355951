package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/notexe/assistant-bot/internal/reminder"
)

// Provider type constants (duplicated from api package to avoid import cycle)
const (
	ProviderDeepSeek = "deepseek"
	ProviderOllama   = "ollama"
	ProviderGemini   = "gemini"
)

// EnvPrefix selects environment overrides; ASSISTANT_CHAT__CONTEXT_WINDOW
// maps to chat.context_window.
const EnvPrefix = "ASSISTANT_"

type Config struct {
	Provider  string          `koanf:"provider"`
	DeepSeek  DeepSeekConfig  `koanf:"deepseek"`
	Ollama    OllamaConfig    `koanf:"ollama"`
	Gemini    GeminiConfig    `koanf:"gemini"`
	Model     ModelConfig     `koanf:"model"`
	Chat      ChatConfig      `koanf:"chat"`
	Reminders RemindersConfig `koanf:"reminders"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	Storage   StorageConfig   `koanf:"storage"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	UI        UIConfig        `koanf:"ui"`
}

type DeepSeekConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	Timeout int    `koanf:"timeout"`
}

type OllamaConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout int    `koanf:"timeout"`
}

type GeminiConfig struct {
	APIKey  string `koanf:"api_key"`
	Timeout int    `koanf:"timeout"`
}

type ModelConfig struct {
	Name         string  `koanf:"name"`
	MaxTokens    int     `koanf:"max_tokens"`
	Temperature  float64 `koanf:"temperature"`
	SystemPrompt string  `koanf:"system_prompt"`
}

type ChatConfig struct {
	ContextWindow int  `koanf:"context_window"` // Turns passed to the model
	MaxHistory    int  `koanf:"max_history"`    // Turns kept per owner in storage
	Persist       bool `koanf:"persist"`
}

type RemindersConfig struct {
	Timezone        string            `koanf:"timezone"`
	SyncInterval    int               `koanf:"sync_interval"`    // Seconds; 0 disables store polling
	DeliveryTimeout int               `koanf:"delivery_timeout"` // Seconds per send attempt
	RatePerSec      int               `koanf:"rate_per_sec"`
	Intervals       map[string]string `koanf:"intervals"` // Named recurrences, e.g. workdays: "cron 0 9 * * 1-5"
}

type TelegramConfig struct {
	BotToken    string `koanf:"bot_token"`
	PollTimeout int    `koanf:"poll_timeout"`
	SendTimeout int    `koanf:"send_timeout"` // Seconds per API call when sending; below delivery_timeout
	Enabled     bool   `koanf:"enabled"`
}

type StorageConfig struct {
	Path        string `koanf:"path"`
	BusyTimeout int    `koanf:"busy_timeout"` // Milliseconds
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type LogConfig struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
}

type UIConfig struct {
	ColoredOutput  bool `koanf:"colored_output"`
	ShowTimestamps bool `koanf:"show_timestamps"`
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = expandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Conventional secret variables win over everything else.
	for name, key := range map[string]string{
		"TELEGRAM_BOT_TOKEN": "telegram.bot_token",
		"DEEPSEEK_API_KEY":   "deepseek.api_key",
		"GEMINI_API_KEY":     "gemini.api_key",
	} {
		if v := os.Getenv(name); v != "" {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Storage.Path = expandPath(cfg.Storage.Path)

	return &cfg, nil
}

// envKey turns ASSISTANT_REMINDERS__SYNC_INTERVAL into reminders.sync_interval.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderDeepSeek:
		if c.DeepSeek.APIKey == "" {
			return fmt.Errorf("DeepSeek API key is required (set DEEPSEEK_API_KEY or add to config file)")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or add to config file)")
		}
	case ProviderOllama:
		if c.Ollama.BaseURL == "" {
			c.Ollama.BaseURL = "http://localhost:11434"
		}
	default:
		return fmt.Errorf("unknown provider: %s (supported: %s, %s, %s)",
			c.Provider, ProviderDeepSeek, ProviderOllama, ProviderGemini)
	}

	if c.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}

	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}

	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.Chat.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive")
	}

	if c.Chat.MaxHistory < c.Chat.ContextWindow {
		return fmt.Errorf("max_history (%d) must be at least context_window (%d)", c.Chat.MaxHistory, c.Chat.ContextWindow)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Reminders.SyncInterval < 0 {
		return fmt.Errorf("sync_interval must not be negative")
	}

	if _, err := c.Intervals(); err != nil {
		return err
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("Telegram bot token is required (set TELEGRAM_BOT_TOKEN or disable telegram)")
	}

	if c.Telegram.Enabled && (c.Telegram.SendTimeout <= 0 || c.Telegram.SendTimeout >= c.Reminders.DeliveryTimeout) {
		return fmt.Errorf("telegram send_timeout must be positive and shorter than reminders.delivery_timeout")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	return nil
}

// Location returns the configured reminder timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Reminders.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Reminders.Timezone, err)
	}
	return loc, nil
}

// Intervals parses the named recurrence definitions.
func (c *Config) Intervals() (map[string]reminder.Recurrence, error) {
	out := make(map[string]reminder.Recurrence, len(c.Reminders.Intervals))
	for name, spec := range c.Reminders.Intervals {
		rec, err := reminder.ParseRecurrence(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", name, err)
		}
		out[strings.ToLower(name)] = rec
	}
	return out, nil
}

// SyncInterval returns how often the scheduler re-reads the store.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Reminders.SyncInterval) * time.Second
}

// DeliveryTimeout returns the per-attempt send timeout.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Reminders.DeliveryTimeout) * time.Second
}

// TelegramSendTimeout bounds one Telegram API call made while sending.
func (c *Config) TelegramSendTimeout() time.Duration {
	return time.Duration(c.Telegram.SendTimeout) * time.Second
}

// ProviderConfig contains provider-specific configuration for the API package.
type ProviderConfig struct {
	Type     string
	DeepSeek DeepSeekConfig
	Ollama   OllamaConfig
	Gemini   GeminiConfig
	Model    ModelSettings
}

// ModelSettings contains model parameters used by all providers.
type ModelSettings struct {
	Name        string
	MaxTokens   int
	Temperature float64
}

// GetProviderConfig returns the provider configuration for the API package.
func (c *Config) GetProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		Type:     c.Provider,
		DeepSeek: c.DeepSeek,
		Ollama:   c.Ollama,
		Gemini:   c.Gemini,
		Model: ModelSettings{
			Name:        c.Model.Name,
			MaxTokens:   c.Model.MaxTokens,
			Temperature: c.Model.Temperature,
		},
	}
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
