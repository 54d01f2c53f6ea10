// Package storage persists collections to the on-disk layout: one directory
// per collection holding meta.json, hnsw.bin, and quantizer.bin.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lumenvec/lumen/internal/index/hnsw"
	"github.com/lumenvec/lumen/internal/quant"
	"github.com/lumenvec/lumen/internal/util"
)

func metricFromInt(m int) util.DistanceMetric {
	return util.DistanceMetric(m)
}

// Meta is the JSON document written to meta.json. It captures everything
// needed to reconstruct a Collection's configuration without depending on
// the lumen package (which depends on storage), so the two translate
// between this and their own CollectionConfig at the boundary.
type Meta struct {
	Name           string                     `json:"name"`
	Dimension      int                        `json:"dimension"`
	Metric         int                        `json:"metric"`
	M              int                        `json:"m"`
	EfConstruction int                        `json:"ef_construction"`
	EfSearch       int                        `json:"ef_search"`
	ML             float64                    `json:"ml"`
	TombstoneRatio float64                    `json:"tombstone_compaction_threshold"`
	Quantization   *quant.QuantizationConfig  `json:"quantization,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	Extra          map[string]json.RawMessage `json:"extra,omitempty"`
}

// FileStore manages the on-disk layout for every collection under a single
// base directory.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (fs *FileStore) collectionDir(name string) string {
	return filepath.Join(fs.baseDir, name)
}

// ListCollections returns the names of collections with a persisted meta.json.
func (fs *FileStore) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list collections: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(fs.baseDir, e.Name(), "meta.json")); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// SaveCollection atomically persists a collection's config, graph, and
// trained quantizer (if any).
func (fs *FileStore) SaveCollection(ctx context.Context, meta *Meta, idx *hnsw.Index) error {
	dir := fs.collectionDir(meta.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}

	meta.UpdatedAt = time.Now()
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := filepath.Join(dir, "meta.json")
	if err := writeAtomic(metaPath, metaBytes); err != nil {
		return fmt.Errorf("write meta.json: %w", err)
	}

	hnswPath := filepath.Join(dir, "hnsw.bin")
	if err := idx.SaveToDisk(ctx, hnswPath); err != nil {
		return fmt.Errorf("write hnsw.bin: %w", err)
	}

	quantPath := filepath.Join(dir, "quantizer.bin")
	if idx.IsQuantizerTrained() {
		q := idx.Quantizer()
		data, err := q.Serialize()
		if err != nil {
			return fmt.Errorf("serialize quantizer: %w", err)
		}
		if err := writeAtomic(quantPath, data); err != nil {
			return fmt.Errorf("write quantizer.bin: %w", err)
		}
	} else {
		_ = os.Remove(quantPath)
	}

	return nil
}

// LoadCollection reconstructs a collection's meta and HNSW index from disk.
func (fs *FileStore) LoadCollection(ctx context.Context, name string) (*Meta, *hnsw.Index, error) {
	dir := fs.collectionDir(name)

	metaBytes, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("read meta.json: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse meta.json: %w", err)
	}

	cfg := &hnsw.Config{
		Dimension:                    meta.Dimension,
		M:                            meta.M,
		EfConstruction:               meta.EfConstruction,
		EfSearch:                     meta.EfSearch,
		ML:                           meta.ML,
		Metric:                       metricFromInt(meta.Metric),
		Quantization:                 meta.Quantization,
		TombstoneCompactionThreshold: meta.TombstoneRatio,
	}
	idx, err := hnsw.NewHNSW(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild index config: %w", err)
	}

	if err := idx.LoadFromDisk(ctx, filepath.Join(dir, "hnsw.bin")); err != nil {
		return nil, nil, fmt.Errorf("read hnsw.bin: %w", err)
	}

	quantPath := filepath.Join(dir, "quantizer.bin")
	if data, err := os.ReadFile(quantPath); err == nil && meta.Quantization != nil {
		q, err := quant.Create(meta.Quantization)
		if err != nil {
			return nil, nil, fmt.Errorf("recreate quantizer: %w", err)
		}
		if err := q.Deserialize(data); err != nil {
			return nil, nil, fmt.Errorf("restore quantizer: %w", err)
		}
		idx.RestoreQuantizer(q)
	}

	return &meta, idx, nil
}

// DeleteCollection removes a collection's entire directory.
func (fs *FileStore) DeleteCollection(name string) error {
	return os.RemoveAll(fs.collectionDir(name))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
