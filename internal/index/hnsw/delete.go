package hnsw

import (
	"context"
	"fmt"
)

// deleteNode marks a vector tombstoned. The node keeps its slot, its vector
// data, and its links — traversal and search skip it, but the graph topology
// around it is left intact until Compact runs. This trades a stale slot for
// avoiding the connectivity repair that physical removal would otherwise need
// mid-search.
func (h *Index) deleteNode(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	nodeID, node := h.findNodeByID(id)
	if nodeID == ^uint32(0) {
		return fmt.Errorf("node with ID '%s' not found", id)
	}
	if node.Tombstone {
		return fmt.Errorf("node with ID '%s' not found", id)
	}

	node.Tombstone = true
	h.tombstones++
	h.size--
	delete(h.idToIndex, id)

	if h.entryPoint == node {
		h.reseedEntryPoint(nodeID)
	}

	return nil
}

// findNodeByID finds a live node by its ID using O(1) map lookup.
func (h *Index) findNodeByID(id string) (uint32, *Node) {
	if idx, exists := h.idToIndex[id]; exists {
		if idx < uint32(len(h.nodes)) && h.nodes[idx] != nil && h.nodes[idx].ID == id && !h.nodes[idx].Tombstone {
			return idx, h.nodes[idx]
		}
		delete(h.idToIndex, id)
	}
	return ^uint32(0), nil
}

// reseedEntryPoint picks a replacement entry point after the current one is
// tombstoned, preferring another high-level candidate before falling back to
// a full scan.
func (h *Index) reseedEntryPoint(excludeID uint32) {
	for _, candidateID := range h.entryPointCandidates {
		if candidateID == excludeID || candidateID >= uint32(len(h.nodes)) {
			continue
		}
		node := h.nodes[candidateID]
		if node != nil && !node.Tombstone {
			h.entryPoint = node
			h.maxLevel = node.Level
			return
		}
	}

	var fallback *Node
	newMaxLevel := -1
	for i, node := range h.nodes {
		if node == nil || node.Tombstone || uint32(i) == excludeID {
			continue
		}
		if node.Level > newMaxLevel {
			newMaxLevel = node.Level
			fallback = node
		}
	}

	h.entryPoint = fallback
	h.maxLevel = newMaxLevel
}

// tombstoneFraction reports the live ratio of tombstoned nodes to total nodes.
func (h *Index) tombstoneFraction() float64 {
	if len(h.nodes) == 0 {
		return 0
	}
	return float64(h.tombstones) / float64(len(h.nodes))
}

// NeedsCompaction reports whether the tombstone fraction has crossed the
// configured rebuild threshold.
func (h *Index) NeedsCompaction() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tombstoneFraction() >= h.config.TombstoneCompactionThreshold
}

// Compact rebuilds the graph from scratch using only live (non-tombstoned)
// nodes, discarding the rest. It is the only point where tombstoned slots are
// actually freed.
func (h *Index) Compact(ctx context.Context) error {
	h.mu.Lock()
	live := make([]*VectorEntry, 0, h.size)
	for _, node := range h.nodes {
		if node == nil || node.Tombstone {
			continue
		}
		vec := node.Vector
		if vec == nil && h.quantizer != nil && node.CompressedVector != nil {
			var err error
			vec, err = h.quantizer.Decompress(node.CompressedVector)
			if err != nil {
				h.mu.Unlock()
				return fmt.Errorf("compact: decompress node %q: %w", node.ID, err)
			}
		}
		live = append(live, &VectorEntry{ID: node.ID, Vector: vec, Metadata: node.Metadata})
	}
	cfg := h.config
	quantizerWasTrained := h.quantizationTrained
	h.mu.Unlock()

	rebuilt, err := NewHNSW(cfg)
	if err != nil {
		return fmt.Errorf("compact: rebuild index: %w", err)
	}
	if quantizerWasTrained && h.quantizer != nil {
		// Reuse the trained quantizer rather than retraining from the
		// (smaller, post-compaction) live set.
		rebuilt.quantizer = h.quantizer
		rebuilt.quantizationTrained = true
	}
	for _, entry := range live {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := rebuilt.Insert(ctx, entry); err != nil {
			return fmt.Errorf("compact: reinsert %q: %w", entry.ID, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = rebuilt.nodes
	h.entryPoint = rebuilt.entryPoint
	h.maxLevel = rebuilt.maxLevel
	h.idToIndex = rebuilt.idToIndex
	h.entryPointCandidates = rebuilt.entryPointCandidates
	h.size = rebuilt.size
	h.tombstones = 0
	h.quantizer = rebuilt.quantizer
	h.quantizationTrained = rebuilt.quantizationTrained
	return nil
}
