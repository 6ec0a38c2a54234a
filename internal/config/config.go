// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/capitalize-ai/agentwatch/internal/tracker"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// LLM backend
	LMStudioURL string
	LLMAPIKey   string

	// Tracker settings
	TrackerBatchSize        int
	TrackerFlushInterval    time.Duration
	TrackerAnonymizeUsers   bool
	TrackerExcludeSensitive bool

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSName     string

	// JWT settings; an empty secret disables admin auth
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "3001"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// LLM
		LMStudioURL: getEnv("LMSTUDIO_URL", "http://localhost:1234"),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),

		// Tracker
		TrackerBatchSize:        getIntEnv("TRACKER_BATCH_SIZE", 1),
		TrackerFlushInterval:    getDurationEnv("TRACKER_FLUSH_INTERVAL", 5*time.Second),
		TrackerAnonymizeUsers:   getBoolEnv("TRACKER_ANONYMIZE_USERS", false),
		TrackerExcludeSensitive: getBoolEnv("TRACKER_EXCLUDE_SENSITIVE", false),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSName:     getEnv("NATS_CLIENT_NAME", "agentwatch"),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// TrackerConfig returns the tracker settings shared by every chatbot.
func (c *Config) TrackerConfig() tracker.Config {
	tc := tracker.DefaultConfig()
	tc.APIKey = c.LLMAPIKey
	tc.BatchSize = c.TrackerBatchSize
	tc.FlushInterval = c.TrackerFlushInterval
	tc.AnonymizeUserData = c.TrackerAnonymizeUsers
	tc.ExcludeSensitiveData = c.TrackerExcludeSensitive
	return tc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
