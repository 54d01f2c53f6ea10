// Package config loads lumen's on-disk and environment configuration.
package config

import "time"

// Config is the root configuration document lumen loads from YAML plus
// LUMEN_-prefixed environment overrides.
type Config struct {
	Server              ServerConfig              `koanf:"server"`
	Collections         map[string]CollectionSpec `koanf:"collections"`
	FileWatcher         FileWatcherConfig         `koanf:"file_watcher"`
	Summarization       SummarizationConfig       `koanf:"summarization"`
	QuantizationDefault QuantizationDefaults      `koanf:"quantization_defaults"`
	Backends            BackendsConfig            `koanf:"backends"`
}

// ServerConfig controls the embedding process / server entry point.
type ServerConfig struct {
	StoragePath    string `koanf:"storage_path"`
	MaxCollections int    `koanf:"max_collections"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
}

// CollectionSpec describes a collection to provision at startup.
type CollectionSpec struct {
	Dimension      int    `koanf:"dimension"`
	Metric         string `koanf:"metric"`
	M              int    `koanf:"m"`
	EfConstruction int    `koanf:"ef_construction"`
	EfSearch       int    `koanf:"ef_search"`
}

// FileWatcherConfig configures the C8 incremental indexer.
type FileWatcherConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Paths            []string      `koanf:"paths"`
	Include          []string      `koanf:"include"`
	Exclude          []string      `koanf:"exclude"`
	TargetCollection string        `koanf:"target_collection"`
	Debounce         time.Duration `koanf:"debounce"`
	HighWaterMark    int           `koanf:"high_water_mark"`
	MaxInFlight      int           `koanf:"max_in_flight"`
}

// SummarizationConfig configures optional payload summarization fields used
// by the reranker's freshness/overlap scoring.
type SummarizationConfig struct {
	Enabled        bool    `koanf:"enabled"`
	RankWeight     float64 `koanf:"rank_weight"`
	SimilarityW    float64 `koanf:"similarity_weight"`
	FreshnessW     float64 `koanf:"freshness_weight"`
	OverlapWeight  float64 `koanf:"overlap_weight"`
	DedupThreshold float64 `koanf:"dedup_threshold"`
	QueryVariants  int     `koanf:"query_variants"`
}

// QuantizationDefaults mirrors quant.QuantizationConfig's knobs for
// collections that don't set their own.
type QuantizationDefaults struct {
	Enabled bool   `koanf:"enabled"`
	Kind    string `koanf:"kind"`
}

// BackendsConfig configures C9's compute backend selector.
type BackendsConfig struct {
	Override string `koanf:"override"`
}

// Default returns lumen's hardcoded configuration defaults, applied before
// the YAML file and environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			StoragePath:    "./data",
			MaxCollections: 100,
			MetricsEnabled: true,
		},
		FileWatcher: FileWatcherConfig{
			Debounce:      300 * time.Millisecond,
			HighWaterMark: 1000,
			MaxInFlight:   8,
		},
		Summarization: SummarizationConfig{
			RankWeight:     0.5,
			SimilarityW:    0.3,
			FreshnessW:     0.1,
			OverlapWeight:  0.1,
			DedupThreshold: 0.92,
			QueryVariants:  4,
		},
		QuantizationDefault: QuantizationDefaults{},
		Backends:            BackendsConfig{},
	}
}
