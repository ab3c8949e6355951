package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"provider": "deepseek",
		"deepseek": map[string]interface{}{
			"api_key":  "",
			"base_url": "https://api.deepseek.com",
			"timeout":  120,
		},
		"ollama": map[string]interface{}{
			"base_url": "http://localhost:11434",
			"timeout":  120,
		},
		"gemini": map[string]interface{}{
			"api_key": "",
			"timeout": 60,
		},
		"model": map[string]interface{}{
			"name":          "deepseek-chat",
			"max_tokens":    2048,
			"temperature":   1.0,
			"system_prompt": "You are a helpful personal assistant. Answer in the language of the user, briefly and to the point. You can also help with reminders: the user sets them with /remind and /every.",
		},
		"chat": map[string]interface{}{
			"context_window": 10,
			"max_history":    50,
			"persist":        true,
		},
		"reminders": map[string]interface{}{
			"timezone":         "Europe/Istanbul",
			"sync_interval":    60,
			"delivery_timeout": 15,
			"rate_per_sec":     20,
			"intervals": map[string]interface{}{
				"hourly":   "every 1h",
				"workdays": "cron 0 9 * * 1-5",
			},
		},
		"telegram": map[string]interface{}{
			"enabled":      true,
			"bot_token":    "",
			"poll_timeout": 10,
			"send_timeout": 10,
		},
		"storage": map[string]interface{}{
			"path":         "~/.assistant-bot/assistant.db",
			"busy_timeout": 5000,
		},
		"http": map[string]interface{}{
			"enabled": false,
			"addr":    "127.0.0.1:8080",
		},
		"log": map[string]interface{}{
			"level":   "info",
			"console": true,
		},
		"ui": map[string]interface{}{
			"colored_output":  true,
			"show_timestamps": false,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.assistant-bot/config.yaml"
}
