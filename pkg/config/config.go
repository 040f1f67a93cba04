package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hexclaw/hexclaw/pkg/types"
)

// Config is the full daemon configuration, loaded once at startup from the
// environment (optionally seeded from a .env file). Missing optional values
// degrade benignly; Validate reports only hard misconfigurations.
type Config struct {
	Telegram TelegramConfig
	Models   ModelsConfig
	Cache    CacheConfig
	Queue    QueueConfig
	Tools    ToolServerConfig
	Monitor  MonitorConfig
	Log      LogConfig

	DataDir   string
	SkillsDir string

	// MetricsAddr exposes prometheus metrics when non-empty, e.g. ":9135".
	MetricsAddr string

	// ApprovalTimeoutSec is the default deadline for operator approval gates.
	ApprovalTimeoutSec int

	// FollowupEnqueue controls whether a "choice" approval outcome enqueues a
	// follow-up job (see the suggest_next dispatcher action).
	FollowupEnqueue bool
}

// TelegramConfig configures the operator channel transport.
type TelegramConfig struct {
	BotToken string
	ChatID   int64 // single allowlisted chat
}

// Enabled reports whether the Telegram transport can start.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}

// ModelsConfig holds API keys and per-tier rotation overrides.
type ModelsConfig struct {
	AnthropicKey  string
	OpenAIKey     string
	OpenRouterKey string

	// Rotation overrides, comma-separated "provider:model" descriptors.
	// Empty means the built-in rotation for that tier.
	TierHigh []string
	TierLow  []string
	TierFree []string
}

// CacheConfig configures the two-tier inference cache.
type CacheConfig struct {
	RedisURL          string
	ExactTTLSec       int
	SemanticTTLSec    int
	SemanticThreshold float64
	SemanticMax       int
}

// QueueConfig configures the daemon scheduling loop.
type QueueConfig struct {
	HeartbeatSec  int
	MaxConcurrent int
}

// ToolServerConfig configures the downstream tool-execution server.
type ToolServerConfig struct {
	BaseURL    string
	TimeoutSec int
}

// MonitorConfig configures the threat monitor.
type MonitorConfig struct {
	Enabled     bool
	IntervalSec int
	MinSeverity string
	Feeds       []string // empty means the built-in feed list
	ShodanKey   string
	WatchHosts  []string // IPs/hosts for shodan intel, comma separated
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
	JSON  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present (existing env vars win).
func Load() (*Config, error) {
	// Ignore the error: a missing .env is the normal case.
	_ = godotenv.Load()

	cfg := &Config{
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   envInt64("TELEGRAM_CHAT_ID", 0),
		},
		Models: ModelsConfig{
			AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
			OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
			OpenRouterKey: os.Getenv("OPENROUTER_API_KEY"),
			TierHigh:      envList("MODEL_TIER_HIGH"),
			TierLow:       envList("MODEL_TIER_LOW"),
			TierFree:      envList("MODEL_TIER_FREE"),
		},
		Cache: CacheConfig{
			RedisURL:          os.Getenv("REDIS_URL"),
			ExactTTLSec:       envInt("CACHE_EXACT_TTL_SEC", 86400),
			SemanticTTLSec:    envInt("CACHE_SEMANTIC_TTL_SEC", 604800),
			SemanticThreshold: envFloat("CACHE_SEMANTIC_THRESHOLD", 0.92),
			SemanticMax:       envInt("CACHE_SEMANTIC_MAX_ENTRIES", 2000),
		},
		Queue: QueueConfig{
			HeartbeatSec:  envInt("HEARTBEAT_SEC", 5),
			MaxConcurrent: envInt("MAX_CONCURRENT", 3),
		},
		Tools: ToolServerConfig{
			BaseURL:    envString("TOOL_SERVER_URL", "http://127.0.0.1:8888"),
			TimeoutSec: envInt("TOOL_TIMEOUT_SEC", 300),
		},
		Monitor: MonitorConfig{
			Enabled:     envBool("MONITOR_ENABLED", true),
			IntervalSec: envInt("MONITOR_INTERVAL_SEC", 900),
			MinSeverity: envString("MONITOR_MIN_SEVERITY", types.SeverityMedium),
			Feeds:       envList("MONITOR_FEEDS"),
			ShodanKey:   os.Getenv("SHODAN_API_KEY"),
			WatchHosts:  envList("MONITOR_WATCH_HOSTS"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			JSON:  envBool("LOG_JSON", false),
		},
		DataDir:            envString("DATA_DIR", "./data"),
		SkillsDir:          envString("SKILLS_DIR", "./skills"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
		ApprovalTimeoutSec: envInt("APPROVAL_TIMEOUT_SEC", 300),
		FollowupEnqueue:    envBool("FOLLOWUP_ENQUEUE", true),
	}

	return cfg, nil
}

// Validate checks for hard misconfigurations. Optional subsystems (Telegram,
// Redis, model providers, Shodan) validate only when configured.
func (c *Config) Validate() error {
	if c.Queue.HeartbeatSec <= 0 {
		return fmt.Errorf("HEARTBEAT_SEC must be positive, got %d", c.Queue.HeartbeatSec)
	}
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT must be positive, got %d", c.Queue.MaxConcurrent)
	}
	if c.Cache.SemanticThreshold <= 0 || c.Cache.SemanticThreshold > 1 {
		return fmt.Errorf("CACHE_SEMANTIC_THRESHOLD must be in (0,1], got %v", c.Cache.SemanticThreshold)
	}
	if c.Cache.SemanticMax <= 0 {
		return fmt.Errorf("CACHE_SEMANTIC_MAX_ENTRIES must be positive, got %d", c.Cache.SemanticMax)
	}
	if types.SeverityRank(c.Monitor.MinSeverity) > types.SeverityRank(types.SeverityInfo) {
		return fmt.Errorf("MONITOR_MIN_SEVERITY %q is not a severity", c.Monitor.MinSeverity)
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// EnsureDirs creates the data directory tree.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// JobsDBPath returns the path of the job queue database.
func (c *Config) JobsDBPath() string { return filepath.Join(c.DataDir, "jobs.db") }

// TokensDBPath returns the path of the token ledger database.
func (c *Config) TokensDBPath() string { return filepath.Join(c.DataDir, "tokens.db") }

// LocalKVPath returns the path of the local bolt key-value file.
func (c *Config) LocalKVPath() string { return filepath.Join(c.DataDir, "hexclaw.db") }

// ArtifactsDir returns the root directory of per-job artifact files.
func (c *Config) ArtifactsDir() string { return filepath.Join(c.DataDir, "artifacts") }

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
