package hnsw

import (
	"time"
)

// Binary format constants
const (
	// Magic number for HNSW index files: "HNSWVIDX"
	IndexFileMagic = "HNSWVIDX"

	// Current binary format version
	FormatVersion = uint32(1)

	// Maximum supported format version (for forward compatibility)
	MaxSupportedVersion = uint32(1)

	// Section alignment (for performance)
	SectionAlignment = 64

	// Chunk size for streaming operations (64KB)
	StreamChunkSize = 64 * 1024
)

// IndexFileHeader describes a fixed-size header layout. The writer in
// persistence.go does not use it; see the layout comment at the end of
// this file for the header it writes.
type IndexFileHeader struct {
	Magic     [8]byte // "HNSWVIDX" magic identifier
	Version   uint32  // Binary format version
	NodeCount uint32  // Total number of nodes in index
	Dimension uint32  // Vector dimension
	MaxLevel  int32   // Maximum graph level

	// Section sizes (for efficient seeking)
	ConfigSize uint32 // Config section size in bytes
	NodesSize  uint64 // Nodes section size in bytes
	LinksSize  uint64 // Links section size in bytes
	MetaSize   uint32 // Metadata section size in bytes

	// Integrity and performance
	ChecksumCRC uint32 // Header + all sections CRC32
	Compressed  uint32 // Compression flags (reserved for future)

	// Reserved space for future extensions
	Reserved [32]byte // Must be zero-filled
}

// NodeEntry represents a single node in the binary format
type NodeEntry struct {
	IDLength    uint32 // Length of ID string
	Level       int32  // Maximum level for this node
	VectorBytes uint32 // Size of vector data (dimension * 4)
	MetaBytes   uint32 // Size of metadata (JSON serialized)

	// Variable-length data follows:
	// - ID string (IDLength bytes)
	// - Vector data (VectorBytes bytes, float32 little-endian)
	// - Metadata (MetaBytes bytes, JSON)
}

// LinkEntry represents connections for a single level of a node
type LinkEntry struct {
	NodeIndex uint32 // Index of the node this entry belongs to
	Level     int32  // Graph level
	LinkCount uint32 // Number of connections at this level

	// Variable-length data follows:
	// - Link indices (LinkCount * 4 bytes, uint32 little-endian)
}

// ConfigEntry holds the HNSW configuration used to build the index
type ConfigEntry struct {
	Dimension      uint32  // Vector dimension
	M              uint32  // Maximum connections per node
	EfConstruction uint32  // Construction-time candidate list size
	EfSearch       uint32  // Search-time candidate list size
	ML             float64 // Level generation factor
	Metric         uint32  // Distance metric (0=L2, 1=Inner, 2=Cosine)
	RandomSeed     int64   // Random seed used during construction
}

// MetadataEntry holds index-wide metadata
type MetadataEntry struct {
	CreationTime    int64  // Unix timestamp of index creation
	BuildDuration   int64  // Time taken to build index (nanoseconds)
	EntryPointIndex uint32 // Index of the entry point node
	IndexTypeID     uint32 // Type identifier (1=HNSW)

	// Statistics
	TotalInsertions   uint64  // Total vectors inserted
	TotalDeletions    uint64  // Total vectors deleted
	GraphConnectivity float32 // Average connections per node

	Reserved [16]byte // Future metadata
}

// HNSWPersistenceMetadata holds metadata about persisted HNSW index
type HNSWPersistenceMetadata struct {
	Version       uint32    `json:"version"`
	NodeCount     int       `json:"node_count"`
	Dimension     int       `json:"dimension"`
	MaxLevel      int       `json:"max_level"`
	CreatedAt     time.Time `json:"created_at"`
	ChecksumCRC32 uint32    `json:"checksum_crc32"`
	FileSize      int64     `json:"file_size"`
}

// File layout written by saveToDiskImpl (persistence.go), all values
// little-endian and sections written back to back without padding:
// ┌─────────────────────┐
// │ Header              │ 20 bytes: magic uint32 (HNSWMagicNumber),
// │                     │   version uint32, Unix timestamp int64,
// │                     │   CRC32 uint32 of M, EfConstruction,
// │                     │   Dimension and node count
// ├─────────────────────┤
// │ Config              │ 24 bytes: M, EfConstruction, EfSearch, 16,
// │                     │   Dimension, Metric, each uint32
// ├─────────────────────┤
// │ Nodes               │ uint32 count, then per slot a uint8 marker
// │                     │   (0 = empty slot); a live slot follows with
// │                     │   ID length + ID, vector length + float32s,
// │                     │   level uint32, tombstone uint8,
// │                     │   metadata length + JSON
// ├─────────────────────┤
// │ Links               │ uint32 count, then per node: node index,
// │                     │   level count, and per level the level,
// │                     │   link count and uint32 node indices
// ├─────────────────────┤
// │ Metadata            │ uint8 entry-point flag, then the entry
// │                     │   point's ID length + ID when set
// └─────────────────────┘
//
// The loader checks the magic number and version; the stored CRC32 is read
// but not compared against anything. IndexFileMagic, SectionAlignment,
// StreamChunkSize and the IndexFileHeader, NodeEntry, LinkEntry,
// ConfigEntry and MetadataEntry types are not used by the writer or the
// loader.
