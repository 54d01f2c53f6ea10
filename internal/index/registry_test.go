package index

import (
	"testing"

	"github.com/lumenvec/lumen/internal/util"
)

func TestIndexFactory_CreateIndex(t *testing.T) {
	factory := NewIndexFactory()

	tests := []struct {
		name        string
		indexType   IndexType
		config      interface{}
		expectError bool
	}{
		{
			name:      "valid HNSW config",
			indexType: IndexTypeHNSW,
			config: &HNSWConfig{
				Dimension:      128,
				M:              16,
				EfConstruction: 200,
				EfSearch:       50,
				ML:             1.0 / 2.303,
				Metric:         util.L2Distance,
			},
			expectError: false,
		},
		{
			name:        "invalid config type for HNSW",
			indexType:   IndexTypeHNSW,
			config:      "not a config",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, err := factory.CreateIndex(tt.indexType, tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if index == nil {
				t.Errorf("expected non-nil index")
				return
			}

			if index.Size() != 0 {
				t.Errorf("expected empty index, got size %d", index.Size())
			}

			if err := index.Close(); err != nil {
				t.Errorf("failed to close index: %v", err)
			}
		})
	}
}

func TestIndexFactory_SupportedIndexTypes(t *testing.T) {
	factory := NewIndexFactory()
	supported := factory.SupportedIndexTypes()

	if len(supported) != 1 || supported[0] != IndexTypeHNSW {
		t.Errorf("expected only IndexTypeHNSW supported, got %v", supported)
	}
}

func TestDefaultIndexFactory(t *testing.T) {
	if DefaultIndexFactory == nil {
		t.Errorf("DefaultIndexFactory should not be nil")
	}

	config := &HNSWConfig{
		Dimension:      64,
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		ML:             1.0 / 2.303,
		Metric:         util.L2Distance,
	}

	index, err := DefaultIndexFactory.CreateIndex(IndexTypeHNSW, config)
	if err != nil {
		t.Errorf("DefaultIndexFactory failed to create index: %v", err)
	}

	if index != nil {
		index.Close()
	}
}
