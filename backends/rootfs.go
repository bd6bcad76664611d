package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
	"github.com/stratumbuild/stratum/layers"
)

// RootfsBackend unpacks the plan's layers into a directory tree, lowest
// order_index first, and writes the flat layer records next to it. It never
// touches the network: the base image is recorded, not fetched.
type RootfsBackend struct{}

func init() {
	RegisterBackend("rootfs", &RootfsBackend{})
}

func (b *RootfsBackend) Name() string {
	return "rootfs"
}

// rootfsManifest is the metadata file written beside the extracted tree.
type rootfsManifest struct {
	PlanID     string             `json:"plan_id"`
	PlanDigest string             `json:"plan_digest"`
	BaseImage  string             `json:"base_image"`
	Entrypoint []string           `json:"entrypoint"`
	Records    []types.PlanRecord `json:"records"`
}

func (b *RootfsBackend) Assemble(ctx context.Context, req *Request) (*types.AssembleResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	artifacts, err := prepareLayers(ctx, req)
	if err != nil {
		return nil, err
	}

	outputDir := req.Output
	if outputDir == "" {
		outputDir = "rootfs"
	}
	treeDir := filepath.Join(outputDir, "rootfs")
	if err := os.MkdirAll(treeDir, 0755); err != nil {
		return nil, errors.NewAssemblyError("create_output", "failed to create output directory", err)
	}

	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewAssemblyError("extract_layers",
				fmt.Sprintf("assembly canceled before layer %d", artifact.Layer.OrderIndex), err)
		}

		reader, err := os.Open(artifact.Path)
		if err != nil {
			return nil, errors.NewAssemblyError("open_blob",
				fmt.Sprintf("failed to open blob for layer %d", artifact.Layer.OrderIndex), err)
		}
		err = layers.Extract(reader, artifact.Blob.Compression, treeDir)
		reader.Close()
		if err != nil {
			return nil, errors.NewAssemblyError("extract_layer",
				fmt.Sprintf("failed to extract layer %d", artifact.Layer.OrderIndex), err)
		}
	}

	command, err := entrypointCommand(req)
	if err != nil {
		return nil, err
	}

	manifest := rootfsManifest{
		PlanID:     req.Plan.ID,
		PlanDigest: req.Plan.Digest.String(),
		BaseImage:  req.Plan.BaseImage,
		Entrypoint: command,
		Records:    req.Plan.Records(),
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.NewAssemblyError("write_manifest", "failed to marshal rootfs manifest", err)
	}
	manifestPath := filepath.Join(outputDir, "manifest.json")
	if err := os.WriteFile(manifestPath, manifestData, 0644); err != nil {
		return nil, errors.NewAssemblyError("write_manifest", "failed to write rootfs manifest", err)
	}

	if err := commitRecords(req, artifacts, b.Name()); err != nil {
		return nil, err
	}

	reused, materialized := countReused(artifacts)
	return &types.AssembleResult{
		Backend:            b.Name(),
		ImageRef:           outputDir,
		LayersTotal:        len(req.Plan.Layers),
		LayersReused:       reused,
		LayersMaterialized: materialized,
		Outputs: map[string]string{
			"path":     outputDir,
			"rootfs":   treeDir,
			"manifest": manifestPath,
		},
	}, nil
}
