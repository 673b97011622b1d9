package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port               int
	NatsURL            string
	NatsToken          string
	DatabaseURL        string
	LogLevel           string
	LogFile            string
	AnthropicAPIKey    string
	AnthropicModel     string
	SlackBotToken      string
	SlackChannel       string
	ChronicleURL       string
	APIToken           string
	SettingsPath       string
	BulkAIRateLimitMs  int
	SyncPollIntervalMs int
	// SyncRoots maps provider ids to the directories holding their history.
	// Empty disables the local sync agent.
	SyncRoots    map[string]string
	SyncStateDir string
}

func Load() Config {
	return Config{
		Port:               envInt("TEMPO_PORT", 8760),
		NatsURL:            envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:          envStr("NATS_TOKEN", ""),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		LogLevel:           envStr("LOG_LEVEL", "info"),
		LogFile:            envStr("LOG_FILE", ""),
		AnthropicAPIKey:    envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:     envStr("TEMPO_MODEL", "claude-sonnet-4-20250514"),
		SlackBotToken:      envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:       envStr("SLACK_CHANNEL", ""),
		ChronicleURL:       envStr("CHRONICLE_URL", ""),
		APIToken:           envStr("TEMPO_API_TOKEN", ""),
		SettingsPath:       envStr("TEMPO_SETTINGS", "~/.config/tempo/settings.toml"),
		BulkAIRateLimitMs:  envInt("TEMPO_BULK_AI_RATE_LIMIT_MS", 2000),
		SyncPollIntervalMs: envInt("TEMPO_SYNC_POLL_INTERVAL_MS", 1000),
		SyncRoots:          ParseRoots(envStr("TEMPO_SYNC_ROOTS", "")),
		SyncStateDir:       envStr("TEMPO_SYNC_STATE_DIR", "~/.local/state/tempo/sync"),
	}
}

// ParseRoots reads "claude=~/.claude/projects,codex=~/.codex/sessions".
// Malformed entries are skipped.
func ParseRoots(s string) map[string]string {
	roots := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		provider, dir, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || provider == "" || dir == "" {
			continue
		}
		roots[strings.TrimSpace(provider)] = strings.TrimSpace(dir)
	}
	return roots
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
