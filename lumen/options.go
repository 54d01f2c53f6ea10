package lumen

import (
	"fmt"

	"github.com/lumenvec/lumen/internal/quant"
	"go.uber.org/zap"
)

// Option represents a database configuration option
type Option func(*Config) error

// WithStoragePath sets the storage path for the database
func WithStoragePath(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("storage path cannot be empty")
		}
		c.StoragePath = path
		return nil
	}
}

// WithMetrics enables or disables metrics collection
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.MetricsEnabled = enabled
		return nil
	}
}

// WithTracing enables or disables distributed tracing
func WithTracing(enabled bool) Option {
	return func(c *Config) error {
		c.TracingEnabled = enabled
		return nil
	}
}

// WithMaxCollections sets the maximum number of collections
func WithMaxCollections(max int) Option {
	return func(c *Config) error {
		if max <= 0 {
			return fmt.Errorf("max collections must be positive")
		}
		c.MaxCollections = max
		return nil
	}
}

// WithLogger attaches a zap logger to the database. If unset, New uses a
// nop logger so embedders who don't care about logging pay nothing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithBackendOverride forces compute backend selection to a named backend
// (see internal/backend) instead of probing priority order. An empty
// string (the default) probes normally.
func WithBackendOverride(name string) Option {
	return func(c *Config) error {
		c.BackendOverride = name
		return nil
	}
}

// CollectionOption represents a collection configuration option
type CollectionOption func(*CollectionConfig) error

// WithDimension sets the vector dimension for the collection
func WithDimension(dim int) CollectionOption {
	return func(c *CollectionConfig) error {
		if dim <= 0 {
			return fmt.Errorf("dimension must be positive")
		}
		c.Dimension = dim
		return nil
	}
}

// WithMetric sets the distance metric for the collection
func WithMetric(metric DistanceMetric) CollectionOption {
	return func(c *CollectionConfig) error {
		c.Metric = metric
		return nil
	}
}

// WithHNSW configures HNSW index parameters
func WithHNSW(m, efConstruction, efSearch int) CollectionOption {
	return func(c *CollectionConfig) error {
		if m <= 0 || efConstruction <= 0 || efSearch <= 0 {
			return fmt.Errorf("HNSW parameters must be positive")
		}
		c.IndexType = HNSW
		c.M = m
		c.EfConstruction = efConstruction
		c.EfSearch = efSearch
		return nil
	}
}

// WithQuantization enables vector compression once enough training data
// has been observed.
func WithQuantization(qtype quant.QuantizationType) CollectionOption {
	return func(c *CollectionConfig) error {
		c.Quantization = quant.DefaultConfig(qtype)
		if c.Quantization == nil {
			return fmt.Errorf("unsupported quantization type: %v", qtype)
		}
		return nil
	}
}

// WithTombstoneCompactionThreshold overrides the default 0.2 fraction of
// tombstoned vectors that triggers an opportunistic graph rebuild.
func WithTombstoneCompactionThreshold(fraction float64) CollectionOption {
	return func(c *CollectionConfig) error {
		if fraction <= 0 || fraction > 1 {
			return fmt.Errorf("tombstone compaction threshold must be in (0, 1], got %f", fraction)
		}
		c.TombstoneCompactionThreshold = fraction
		return nil
	}
}
