// Package plan derives layer cache keys and assembles validated build
// plans. A plan is immutable once emitted: digests are derived here exactly
// once and downstream consumers never recompute them.
package plan

import (
	"fmt"
	"strings"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// TargetRoot is the directory the planned tree occupies inside the
// assembled image. Entry paths are relative to it.
const TargetRoot = "/app"

// shortIDLength is the number of digest characters forming the plan id.
const shortIDLength = 12

// Emitter validates layer sets and emits immutable build plans.
type Emitter struct{}

// NewEmitter creates an Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Emit derives every layer digest, validates the plan invariants and
// returns the finished BuildPlan. The entrypoint executable must be one of
// the application-code entries; the base image reference must be non-empty.
func (e *Emitter) Emit(layers []types.Layer, baseImage string, entrypoint types.EntrypointSpec) (*types.BuildPlan, error) {
	if strings.TrimSpace(baseImage) == "" {
		return nil, errors.NewInvalidPlanError("base image reference is empty")
	}
	if entrypoint.Executable == "" {
		return nil, errors.NewInvalidPlanError("entrypoint executable is not set")
	}
	if entrypoint.OptionsEnv == "" {
		entrypoint.OptionsEnv = types.DefaultOptionsEnv
	}
	if !entrypointPresent(layers, entrypoint.Executable) {
		return nil, errors.NewInvalidPlanError(fmt.Sprintf(
			"entrypoint executable %s is not part of any application-code layer", entrypoint.Executable))
	}

	planLayers := make([]types.Layer, len(layers))
	copy(planLayers, layers)
	for i := range planLayers {
		planLayers[i].Digest = LayerDigest(planLayers[i].Entries)
	}

	d := PlanDigest(planLayers)
	return &types.BuildPlan{
		ID:         d.Encoded()[:shortIDLength],
		BaseImage:  baseImage,
		Entrypoint: entrypoint,
		Layers:     planLayers,
		Digest:     d,
	}, nil
}

// entrypointPresent reports whether the executable is an application-code
// entry. The executable may be written tree-relative or as its in-image
// path under TargetRoot.
func entrypointPresent(layers []types.Layer, executable string) bool {
	relative := strings.TrimPrefix(executable, TargetRoot+"/")
	relative = strings.TrimPrefix(relative, "/")
	for i := range layers {
		if layers[i].Class != types.ClassApplicationCode {
			continue
		}
		for _, entry := range layers[i].Entries {
			if entry.Path == relative {
				return true
			}
		}
	}
	return false
}

// Validate checks the structural invariants of a plan, typically one loaded
// from disk: contiguous ascending order indexes, valid digests on every
// layer and the plan, and a non-empty base reference.
func Validate(p *types.BuildPlan) error {
	if p == nil {
		return errors.NewInvalidPlanError("plan is nil")
	}
	if strings.TrimSpace(p.BaseImage) == "" {
		return errors.NewInvalidPlanError("base image reference is empty")
	}
	if p.Entrypoint.Executable == "" {
		return errors.NewInvalidPlanError("entrypoint executable is not set")
	}
	if err := p.Digest.Validate(); err != nil {
		return errors.NewInvalidPlanError(fmt.Sprintf("plan digest is invalid: %v", err))
	}
	for i := range p.Layers {
		layer := &p.Layers[i]
		if layer.OrderIndex != i {
			return errors.NewInvalidPlanError(fmt.Sprintf(
				"layer %d has order index %d; indexes must be contiguous from zero", i, layer.OrderIndex))
		}
		if !layer.Class.Valid() {
			return errors.NewInvalidPlanError(fmt.Sprintf("layer %d has invalid class %q", i, layer.Class))
		}
		if err := layer.Digest.Validate(); err != nil {
			return errors.NewInvalidPlanError(fmt.Sprintf("layer %d digest is invalid: %v", i, err))
		}
		if len(layer.Entries) == 0 {
			return errors.NewInvalidPlanError(fmt.Sprintf("layer %d is empty; empty classes are omitted, not planned", i))
		}
	}
	return nil
}
