package plan

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// Save writes a plan to path as indented JSON. The encoding is stable for
// identical plans, so two runs over an unchanged tree produce bit-identical
// files.
func Save(p *types.BuildPlan, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %v", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write plan to %s: %v", path, err)
	}
	return nil
}

// Load reads a plan file and validates its structural invariants.
func Load(path string) (*types.BuildPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFilesystemError("load_plan", fmt.Sprintf("failed to read plan file %s", path), err)
	}
	var p types.BuildPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.NewInvalidPlanError(fmt.Sprintf("plan file %s is not valid JSON: %v", path, err))
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ChangeKind labels one layer's difference between two plans.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeModified  ChangeKind = "modified"
	ChangeUnchanged ChangeKind = "unchanged"
)

// LayerChange describes how one layer position differs between two plans.
type LayerChange struct {
	OrderIndex int                   `json:"order_index"`
	Class      types.VolatilityClass `json:"class"`
	Change     ChangeKind            `json:"change"`
	OldDigest  digest.Digest         `json:"old_digest,omitempty"`
	NewDigest  digest.Digest         `json:"new_digest,omitempty"`
}

// Diff compares two plans position by position. An unchanged stable prefix
// means those layers stay cached across the two builds.
func Diff(prev, next *types.BuildPlan) []LayerChange {
	count := len(prev.Layers)
	if len(next.Layers) > count {
		count = len(next.Layers)
	}

	changes := make([]LayerChange, 0, count)
	for i := 0; i < count; i++ {
		switch {
		case i >= len(prev.Layers):
			layer := next.Layers[i]
			changes = append(changes, LayerChange{
				OrderIndex: i,
				Class:      layer.Class,
				Change:     ChangeAdded,
				NewDigest:  layer.Digest,
			})
		case i >= len(next.Layers):
			layer := prev.Layers[i]
			changes = append(changes, LayerChange{
				OrderIndex: i,
				Class:      layer.Class,
				Change:     ChangeRemoved,
				OldDigest:  layer.Digest,
			})
		case prev.Layers[i].Digest == next.Layers[i].Digest:
			changes = append(changes, LayerChange{
				OrderIndex: i,
				Class:      next.Layers[i].Class,
				Change:     ChangeUnchanged,
				OldDigest:  prev.Layers[i].Digest,
				NewDigest:  next.Layers[i].Digest,
			})
		default:
			changes = append(changes, LayerChange{
				OrderIndex: i,
				Class:      next.Layers[i].Class,
				Change:     ChangeModified,
				OldDigest:  prev.Layers[i].Digest,
				NewDigest:  next.Layers[i].Digest,
			})
		}
	}
	return changes
}
