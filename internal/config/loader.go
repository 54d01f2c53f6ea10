package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Load reads lumen's configuration from the YAML file at path (if it
// exists) and overlays LUMEN_-prefixed environment variables on top.
// Unknown keys in either source are rejected: a typo'd config key fails
// startup instead of being silently ignored.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LUMEN_", ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, "LUMEN_")
		return strings.ReplaceAll(strings.ToLower(trimmed), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		ErrorUnused: true,
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate rejects configuration that would produce a broken Database.
func (c *Config) Validate() error {
	if c.Server.MaxCollections < 0 {
		return fmt.Errorf("server.max_collections must be non-negative, got %d", c.Server.MaxCollections)
	}
	for name, spec := range c.Collections {
		if spec.Dimension < 0 {
			return fmt.Errorf("collections.%s.dimension must be non-negative, got %d", name, spec.Dimension)
		}
	}
	if c.FileWatcher.Enabled && c.FileWatcher.TargetCollection == "" {
		return fmt.Errorf("file_watcher.target_collection is required when file_watcher.enabled is true")
	}
	sum := c.Summarization.RankWeight + c.Summarization.SimilarityW + c.Summarization.FreshnessW + c.Summarization.OverlapWeight
	if sum != 0 && (sum < 0.99 || sum > 1.01) {
		return fmt.Errorf("summarization reranker weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}
