package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LMSTUDIO_URL", "TRACKER_BATCH_SIZE", "NATS_ENABLED", "JWT_SECRET", "TRACKER_FLUSH_INTERVAL", "LOG_FORMAT", "NATS_CLIENT_NAME"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "3001", cfg.ServerPort)
	assert.Equal(t, "http://localhost:1234", cfg.LMStudioURL)
	assert.Equal(t, 1, cfg.TrackerBatchSize)
	assert.Equal(t, 5*time.Second, cfg.TrackerFlushInterval)
	assert.False(t, cfg.NATSEnabled)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "agentwatch", cfg.NATSName)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LMSTUDIO_URL", "http://gpu-box:1234")
	t.Setenv("TRACKER_BATCH_SIZE", "25")
	t.Setenv("TRACKER_FLUSH_INTERVAL", "2s")
	t.Setenv("TRACKER_ANONYMIZE_USERS", "true")
	t.Setenv("NATS_ENABLED", "1")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")

	cfg := Load()
	assert.Equal(t, "9000", cfg.ServerPort)
	assert.Equal(t, "http://gpu-box:1234", cfg.LMStudioURL)
	assert.Equal(t, 25, cfg.TrackerBatchSize)
	assert.Equal(t, 2*time.Second, cfg.TrackerFlushInterval)
	assert.True(t, cfg.TrackerAnonymizeUsers)
	assert.True(t, cfg.NATSEnabled)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TRACKER_BATCH_SIZE", "lots")
	t.Setenv("TRACKER_FLUSH_INTERVAL", "soon")
	t.Setenv("NATS_ENABLED", "maybe")

	cfg := Load()
	assert.Equal(t, 1, cfg.TrackerBatchSize)
	assert.Equal(t, 5*time.Second, cfg.TrackerFlushInterval)
	assert.False(t, cfg.NATSEnabled)
}

func TestTrackerConfig(t *testing.T) {
	t.Setenv("TRACKER_BATCH_SIZE", "10")
	t.Setenv("TRACKER_EXCLUDE_SENSITIVE", "true")
	t.Setenv("LLM_API_KEY", "sk-local")

	tc := Load().TrackerConfig()
	assert.Equal(t, 10, tc.BatchSize)
	assert.True(t, tc.ExcludeSensitiveData)
	assert.Equal(t, "sk-local", tc.APIKey)
	assert.True(t, tc.EnableTokenCounting)
}
