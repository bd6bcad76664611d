package backends

import (
	"context"

	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// OCIBackend writes the assembled image as an OCI image layout directory.
type OCIBackend struct{}

func init() {
	RegisterBackend("oci", &OCIBackend{})
}

func (b *OCIBackend) Name() string {
	return "oci"
}

func (b *OCIBackend) Assemble(ctx context.Context, req *Request) (*types.AssembleResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
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

	outputDir := req.Output
	if outputDir == "" {
		outputDir = "image"
	}

	layoutPath, err := layout.Write(outputDir, empty.Index)
	if err != nil {
		return nil, errors.NewAssemblyError("write_layout", "failed to initialize OCI layout", err)
	}

	appendOpts := []layout.Option{}
	if req.Tag != "" {
		appendOpts = append(appendOpts, layout.WithAnnotations(map[string]string{
			"org.opencontainers.image.ref.name": req.Tag,
		}))
	}
	if err := layoutPath.AppendImage(img, appendOpts...); err != nil {
		return nil, errors.NewAssemblyError("append_image", "failed to write image to OCI layout", err)
	}

	if err := commitRecords(req, artifacts, b.Name()); err != nil {
		return nil, err
	}

	imageDigest, err := img.Digest()
	if err != nil {
		return nil, errors.NewAssemblyError("image_digest", "failed to compute image digest", err)
	}

	reused, materialized := countReused(artifacts)
	return &types.AssembleResult{
		Backend:            b.Name(),
		ImageRef:           "oci:" + outputDir,
		LayersTotal:        len(req.Plan.Layers),
		LayersReused:       reused,
		LayersMaterialized: materialized,
		Outputs: map[string]string{
			"path":   outputDir,
			"digest": imageDigest.String(),
		},
	}, nil
}
