// Package partition groups classified file entries into ordered layers.
// Layers follow the policy's volatility order, least volatile first, so a
// change in one class never invalidates the layers before it.
package partition

import (
	"fmt"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// Partitioner applies one layer policy.
type Partitioner struct {
	policy *types.LayerPolicy
}

// NewPartitioner validates the policy and builds a Partitioner.
func NewPartitioner(policy *types.LayerPolicy) (*Partitioner, error) {
	if policy == nil {
		policy = types.DefaultLayerPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("invalid layer policy: %v", err), err)
	}
	return &Partitioner{policy: policy}, nil
}

// Partition groups entries by volatility class in policy order, omits empty
// classes, splits classes over the byte threshold by path-sorted chunking
// and assigns ascending order indexes. Every input entry lands in exactly
// one layer.
func (p *Partitioner) Partition(entries []types.FileEntry) ([]types.Layer, error) {
	groups := make(map[types.VolatilityClass][]types.FileEntry)
	for _, entry := range entries {
		if !entry.Class.Valid() {
			return nil, errors.NewClassificationError(entry.Path, "entry reached partitioning without a volatility class", nil)
		}
		groups[entry.Class] = append(groups[entry.Class], entry)
	}

	order := p.policy.Order()
	nonEmpty := 0
	for _, class := range order {
		if len(groups[class]) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty > p.policy.MaxLayers {
		return nil, errors.NewPolicyViolationError(fmt.Sprintf(
			"%d non-empty volatility classes cannot fit in max_layers %d", nonEmpty, p.policy.MaxLayers))
	}

	var layers []types.Layer
	for _, class := range order {
		group := groups[class]
		if len(group) == 0 {
			continue
		}
		types.SortFileEntries(group)
		for _, entries := range chunkBySize(group, p.policy.MaxLayerBytes) {
			layers = append(layers, types.Layer{
				Class:   class,
				Entries: entries,
				Size:    totalSize(entries),
			})
		}
	}

	// Size chunking can push the count past the limit even when the class
	// count fits; both bounds are hard.
	if len(layers) > p.policy.MaxLayers {
		return nil, errors.NewPolicyViolationError(fmt.Sprintf(
			"max_layer_bytes chunking needs %d layers but max_layers is %d", len(layers), p.policy.MaxLayers))
	}

	for i := range layers {
		layers[i].OrderIndex = i
	}
	return layers, nil
}

// chunkBySize splits sorted entries into runs of at most maxBytes,
// preserving path order. Zero maxBytes means no splitting. An entry larger
// than maxBytes occupies a run of its own since files are never split.
func chunkBySize(entries []types.FileEntry, maxBytes int64) [][]types.FileEntry {
	if maxBytes <= 0 {
		return [][]types.FileEntry{entries}
	}
	var chunks [][]types.FileEntry
	var current []types.FileEntry
	var currentSize int64
	for _, entry := range entries {
		if len(current) > 0 && currentSize+entry.Size > maxBytes {
			chunks = append(chunks, current)
			current = nil
			currentSize = 0
		}
		current = append(current, entry)
		currentSize += entry.Size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func totalSize(entries []types.FileEntry) int64 {
	var total int64
	for _, entry := range entries {
		total += entry.Size
	}
	return total
}
