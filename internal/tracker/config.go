package tracker

import (
	"fmt"
	"regexp"
	"time"

	"github.com/capitalize-ai/agentwatch/internal/storage"
)

// StorageConfig selects and configures a storage backend.
type StorageConfig struct {
	Type    storage.Type      `json:"type"`
	Options map[string]string `json:"options,omitempty"`
}

// Config controls what the tracker records and how it batches writes.
type Config struct {
	Provider    string        `json:"provider"`
	APIEndpoint string        `json:"apiEndpoint"`
	APIKey      string        `json:"-"`
	Storage     StorageConfig `json:"storage"`

	EnableTokenCounting        bool `json:"enableTokenCounting"`
	EnableResponseTimeTracking bool `json:"enableResponseTimeTracking"`
	EnableContextTracking      bool `json:"enableContextTracking"`
	EnableCostTracking         bool `json:"enableCostTracking"`

	// Message content matching any ExcludePatterns is not tracked. When
	// IncludeOnlyPatterns is set, only content matching one of them is.
	ExcludePatterns     []string `json:"excludePatterns,omitempty"`
	IncludeOnlyPatterns []string `json:"includeOnlyPatterns,omitempty"`

	// BatchSize <= 1 writes every event immediately.
	BatchSize     int           `json:"batchSize"`
	FlushInterval time.Duration `json:"flushInterval"`

	AnonymizeUserData    bool `json:"anonymizeUserData"`
	ExcludeSensitiveData bool `json:"excludeSensitiveData"`
}

// DefaultConfig returns the default tracker configuration. Provider and
// APIEndpoint are left empty and taken from the provider by New.
func DefaultConfig() Config {
	return Config{
		Storage:                    StorageConfig{Type: storage.TypeMemory},
		EnableTokenCounting:        true,
		EnableResponseTimeTracking: true,
		EnableContextTracking:      true,
		EnableCostTracking:         true,
		BatchSize:                  100,
		FlushInterval:              5 * time.Second,
	}
}

func (c Config) clone() Config {
	c.ExcludePatterns = append([]string(nil), c.ExcludePatterns...)
	c.IncludeOnlyPatterns = append([]string(nil), c.IncludeOnlyPatterns...)
	if c.Storage.Options != nil {
		opts := make(map[string]string, len(c.Storage.Options))
		for k, v := range c.Storage.Options {
			opts[k] = v
		}
		c.Storage.Options = opts
	}
	return c
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
