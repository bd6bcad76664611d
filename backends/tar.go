package backends

import (
	"context"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/tarball"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// TarBackend writes the assembled image as a tarball `docker load` accepts.
type TarBackend struct{}

func init() {
	RegisterBackend("tar", &TarBackend{})
}

func (b *TarBackend) Name() string {
	return "tar"
}

func (b *TarBackend) Assemble(ctx context.Context, req *Request) (*types.AssembleResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	tag := req.Tag
	if tag == "" {
		tag = "stratum-build:latest"
	}
	tagRef, err := name.NewTag(tag)
	if err != nil {
		return nil, errors.NewAssemblyError("parse_tag", "invalid image tag "+tag, err)
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

	outputFile := req.Output
	if outputFile == "" {
		outputFile = "image.tar"
	}

	if err := tarball.WriteToFile(outputFile, tagRef, img); err != nil {
		return nil, errors.NewAssemblyError("write_tarball", "failed to write image tarball", err)
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
		ImageRef:           tagRef.String(),
		LayersTotal:        len(req.Plan.Layers),
		LayersReused:       reused,
		LayersMaterialized: materialized,
		Outputs: map[string]string{
			"path":   outputFile,
			"digest": imageDigest.String(),
		},
	}, nil
}
