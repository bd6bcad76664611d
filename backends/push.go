package backends

import (
	"context"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// PushBackend assembles the image and uploads it straight to a registry
// without leaving a local artifact behind.
type PushBackend struct{}

func init() {
	RegisterBackend("push", &PushBackend{})
}

func (b *PushBackend) Name() string {
	return "push"
}

func (b *PushBackend) Assemble(ctx context.Context, req *Request) (*types.AssembleResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Tag == "" {
		return nil, errors.NewAssemblyError("validate_request", "push requires a target tag", nil)
	}
	if req.Registry == nil {
		return nil, errors.NewAssemblyError("validate_request", "push requires a registry client", nil)
	}

	base, err := resolveBase(ctx, req)
	if err != nil {
		return nil, err
	}

	artifacts, err := prepareLayers(ctx, req)
	if err != nil {
		return nil, err
	}

	img, err := buildImage(req, artifacts, base)
	if err != nil {
		return nil, err
	}

	pushedRef, err := req.Registry.Push(ctx, req.Tag, img)
	if err != nil {
		return nil, errors.NewAssemblyError("push_image", "failed to push assembled image", err)
	}
	req.Logger.LogRegistryOperation("push", pushedRef, true, 0)

	if err := commitRecords(req, artifacts, b.Name()); err != nil {
		return nil, err
	}

	reused, materialized := countReused(artifacts)
	return &types.AssembleResult{
		Backend:            b.Name(),
		ImageRef:           pushedRef,
		LayersTotal:        len(req.Plan.Layers),
		LayersReused:       reused,
		LayersMaterialized: materialized,
		Outputs: map[string]string{
			"ref": pushedRef,
		},
	}, nil
}
