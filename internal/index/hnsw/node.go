package hnsw

// Node represents a single node in the proximity graph.
type Node struct {
	ID               string                 // caller-provided vector id
	Vector           []float32              // full-precision vector, nil once quantized
	CompressedVector []byte                 // quantizer output, nil until the quantizer trains
	Level            int                    // top level this node participates in
	Links            [][]uint32             // per-level adjacency lists, index 0 is the base layer
	Metadata         map[string]interface{} // caller-provided metadata, returned verbatim on search
	Tombstone        bool                   // logically deleted: skipped by traversal and search, still occupies a slot until compaction
}
