package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests that an empty environment yields working defaults.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 86400, cfg.Cache.ExactTTLSec)
	assert.Equal(t, 604800, cfg.Cache.SemanticTTLSec)
	assert.InDelta(t, 0.92, cfg.Cache.SemanticThreshold, 1e-9)
	assert.Equal(t, 2000, cfg.Cache.SemanticMax)
	assert.Equal(t, 5, cfg.Queue.HeartbeatSec)
	assert.Equal(t, 3, cfg.Queue.MaxConcurrent)
	assert.Equal(t, "http://127.0.0.1:8888", cfg.Tools.BaseURL)
	assert.Equal(t, 300, cfg.Tools.TimeoutSec)
	assert.Equal(t, 300, cfg.ApprovalTimeoutSec)
	assert.Equal(t, "medium", cfg.Monitor.MinSeverity)
	assert.Equal(t, 900, cfg.Monitor.IntervalSec)
	assert.True(t, cfg.Monitor.Enabled)
	assert.True(t, cfg.FollowupEnqueue)
	assert.NoError(t, cfg.Validate())
}

// TestLoadOverrides tests env var overrides and list parsing.
func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_CONCURRENT", "8")
	t.Setenv("CACHE_SEMANTIC_THRESHOLD", "0.85")
	t.Setenv("MODEL_TIER_HIGH", "anthropic:claude-sonnet-4-5, openrouter:deepseek/deepseek-chat")
	t.Setenv("MONITOR_FEEDS", "https://example.com/a.xml,https://example.com/b.xml")
	t.Setenv("TELEGRAM_CHAT_ID", "123456")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.MaxConcurrent)
	assert.InDelta(t, 0.85, cfg.Cache.SemanticThreshold, 1e-9)
	assert.Equal(t, []string{"anthropic:claude-sonnet-4-5", "openrouter:deepseek/deepseek-chat"}, cfg.Models.TierHigh)
	assert.Len(t, cfg.Monitor.Feeds, 2)
	assert.Equal(t, int64(123456), cfg.Telegram.ChatID)
}

// TestLoadBadValuesFallBack tests that malformed numerics keep defaults.
func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("HEARTBEAT_SEC", "soon")
	t.Setenv("CACHE_SEMANTIC_THRESHOLD", "almost-one")
	t.Setenv("FOLLOWUP_ENQUEUE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Queue.HeartbeatSec)
	assert.InDelta(t, 0.92, cfg.Cache.SemanticThreshold, 1e-9)
	assert.True(t, cfg.FollowupEnqueue)
}

// TestValidate tests hard misconfiguration detection.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero heartbeat",
			mutate:  func(c *Config) { c.Queue.HeartbeatSec = 0 },
			wantErr: "HEARTBEAT_SEC",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Queue.MaxConcurrent = -1 },
			wantErr: "MAX_CONCURRENT",
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Cache.SemanticThreshold = 1.5 },
			wantErr: "CACHE_SEMANTIC_THRESHOLD",
		},
		{
			name:    "unknown severity",
			mutate:  func(c *Config) { c.Monitor.MinSeverity = "catastrophic" },
			wantErr: "MONITOR_MIN_SEVERITY",
		},
		{
			name:    "bot token without chat id",
			mutate:  func(c *Config) { c.Telegram.BotToken = "tok"; c.Telegram.ChatID = 0 },
			wantErr: "TELEGRAM_CHAT_ID",
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

// TestTelegramEnabled tests the transport gating helper.
func TestTelegramEnabled(t *testing.T) {
	assert.False(t, TelegramConfig{}.Enabled())
	assert.False(t, TelegramConfig{BotToken: "tok"}.Enabled())
	assert.False(t, TelegramConfig{ChatID: 5}.Enabled())
	assert.True(t, TelegramConfig{BotToken: "tok", ChatID: 5}.Enabled())
}

// TestDBPaths tests derived file locations.
func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/hexclaw"}
	assert.Equal(t, "/tmp/hexclaw/jobs.db", cfg.JobsDBPath())
	assert.Equal(t, "/tmp/hexclaw/tokens.db", cfg.TokensDBPath())
	assert.Equal(t, "/tmp/hexclaw/hexclaw.db", cfg.LocalKVPath())
}
