package hnsw

import (
	"github.com/lumenvec/lumen/internal/util"
)

// searchLevel performs best-first search at a specific level. Exploration
// walks through tombstoned nodes so the graph stays connected around them,
// but only live nodes are added to the candidate set that becomes the
// result — a tombstoned node never wins a slot in the returned ranking.
func (h *Index) searchLevel(query []float32, entryPoint *Node, ef int, level int) []*util.Candidate {
	visited := make([]bool, len(h.nodes))
	candidates := util.NewMaxHeap(ef * 2) // live results, bounded to ef
	w := util.NewMinHeap(ef * 2)          // exploration frontier, may include tombstoned nodes

	entryID := h.findNodeID(entryPoint)
	if entryID == ^uint32(0) || entryID >= uint32(len(visited)) {
		return []*util.Candidate{}
	}

	distance := h.computeDistanceOptimized(query, entryPoint)
	if distance < 0 {
		return []*util.Candidate{}
	}

	entryCandidate := &util.Candidate{ID: entryID, Distance: distance}
	w.PushCandidate(entryCandidate)
	visited[entryID] = true
	if !entryPoint.Tombstone {
		candidates.PushCandidate(entryCandidate)
	}

	for w.Len() > 0 {
		current := w.PopCandidate()

		if candidates.Len() >= ef && candidates.Top() != nil && current.Distance > candidates.Top().Distance {
			break
		}

		currentNode := h.nodes[current.ID]
		if level >= len(currentNode.Links) {
			continue
		}

		for _, neighborID := range currentNode.Links[level] {
			if neighborID >= uint32(len(visited)) || visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighborNode := h.nodes[neighborID]
			neighborDistance := h.computeDistanceOptimized(query, neighborNode)
			if neighborDistance < 0 {
				continue
			}

			neighborCandidate := &util.Candidate{ID: neighborID, Distance: neighborDistance}

			if candidates.Len() < ef || candidates.Top() == nil || neighborDistance < candidates.Top().Distance {
				w.PushCandidate(neighborCandidate)
				if !neighborNode.Tombstone {
					candidates.PushCandidate(neighborCandidate)
					if candidates.Len() > ef {
						candidates.PopCandidate()
					}
				}
			}
		}
	}

	result := make([]*util.Candidate, 0, candidates.Len())
	for candidates.Len() > 0 {
		result = append([]*util.Candidate{candidates.PopCandidate()}, result...)
	}

	return result
}

// computeDistanceOptimized provides optimized distance computation with error handling
func (h *Index) computeDistanceOptimized(query []float32, node *Node) float32 {
	if node.CompressedVector != nil && h.quantizer != nil {
		distance, err := h.quantizer.DistanceToQuery(node.CompressedVector, query)
		if err != nil {
			vec, decompErr := h.quantizer.Decompress(node.CompressedVector)
			if decompErr != nil {
				return -1
			}
			return h.distance(query, vec)
		}
		return distance
	} else if node.Vector != nil {
		return h.distance(query, node.Vector)
	}
	return -1
}
