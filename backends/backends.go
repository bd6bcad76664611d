// Package backends materializes build plans into concrete artifacts. Every
// backend walks the plan's layers in ascending order, reuses blobs the cache
// already holds, and appends cache records only after the whole artifact
// landed. A failed run leaves the cache records untouched; blobs written
// along the way stay behind so the next attempt can pick them up.
package backends

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/cache"
	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/logging"
	"github.com/stratumbuild/stratum/internal/types"
	"github.com/stratumbuild/stratum/layers"
	"github.com/stratumbuild/stratum/plan"
	"github.com/stratumbuild/stratum/registry"
)

// DefaultBackendName is used when a build does not pick a backend.
const DefaultBackendName = "oci"

// Request carries everything a backend needs to assemble one plan.
type Request struct {
	Plan        *types.BuildPlan
	TreeRoot    string
	Output      string
	Tag         string
	Platform    string
	Args        []string
	Compression layers.CompressionType
	NoCache     bool
	Store       *cache.Store
	Registry    *registry.Client
	Logger      *logging.PlanLogger
}

// Backend turns a validated plan into an artifact.
type Backend interface {
	Name() string
	Assemble(ctx context.Context, req *Request) (*types.AssembleResult, error)
}

var backends = make(map[string]Backend)

// RegisterBackend makes a backend available by name.
func RegisterBackend(name string, backend Backend) {
	backends[name] = backend
}

// GetBackend returns the backend registered under name.
func GetBackend(name string) (Backend, error) {
	backend, exists := backends[name]
	if !exists {
		return nil, fmt.Errorf("backend %s not found", name)
	}
	return backend, nil
}

// ListBackends returns the registered backend names, sorted.
func ListBackends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Request) validate() error {
	if r.Plan == nil {
		return errors.NewInvalidPlanError("assembly requires a plan")
	}
	if err := plan.Validate(r.Plan); err != nil {
		return err
	}
	if r.Store == nil {
		return errors.NewAssemblyError("validate_request", "assembly requires a cache store", nil)
	}
	if r.Logger == nil {
		r.Logger = logging.NewPlanLogger()
		r.Logger.SetPlanID(r.Plan.ID)
	}
	if r.Compression == "" {
		r.Compression = layers.DefaultCompression
	}
	return nil
}

// layerArtifact is one plan layer resolved to a concrete blob in the cache.
type layerArtifact struct {
	Layer  types.Layer
	Blob   layers.Blob
	Path   string
	Reused bool
}

// prepareLayers resolves every layer of the plan to a blob, strictly in
// order_index order. Cancellation is honored only between layers, so an
// artifact in progress is never truncated.
func prepareLayers(ctx context.Context, req *Request) ([]layerArtifact, error) {
	compression := req.Compression.String()
	materializer := layers.NewMaterializer(req.TreeRoot, plan.TargetRoot, req.Compression)

	artifacts := make([]layerArtifact, 0, len(req.Plan.Layers))
	for _, layer := range req.Plan.Layers {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewAssemblyError("prepare_layers",
				fmt.Sprintf("assembly canceled before layer %d", layer.OrderIndex), err)
		}

		if !req.NoCache {
			if record, found := req.Store.Get(layer.Digest, compression); found {
				if blobPath, exists := req.Store.BlobPath(layer.Digest, compression); exists {
					req.Logger.LogLayerReused(layer.OrderIndex, layer.Digest.String(), record.Size)
					artifacts = append(artifacts, layerArtifact{
						Layer: layer,
						Blob: layers.Blob{
							Digest:      record.BlobDigest,
							DiffID:      record.DiffID,
							Size:        record.Size,
							MediaType:   record.MediaType,
							Compression: req.Compression,
						},
						Path:   blobPath,
						Reused: true,
					})
					continue
				}
			}
		}

		start := time.Now()
		artifact, err := materializeLayer(req, materializer, layer)
		if err != nil {
			return nil, err
		}
		req.Logger.LogLayerMaterialized(layer.OrderIndex, layer.Digest.String(), artifact.Blob.Size, time.Since(start))
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func materializeLayer(req *Request, materializer *layers.Materializer, layer types.Layer) (layerArtifact, error) {
	compression := req.Compression.String()

	// A blob left behind by an interrupted run is as good as a fresh one:
	// blob content is a pure function of the layer digest and compression.
	if !req.NoCache && req.Store.HasBlob(layer.Digest, compression) {
		artifact, err := artifactFromCachedBlob(req, layer)
		if err == nil {
			req.Logger.LogCacheOperation("blob_reuse", layer.Digest.String(), true, artifact.Blob.Size)
			return artifact, nil
		}
		req.Logger.LogError(err, "blob_reuse")
	}

	blob, err := materializer.Materialize(layer)
	if err != nil {
		return layerArtifact{}, errors.NewAssemblyError("materialize_layer",
			fmt.Sprintf("failed to materialize layer %d", layer.OrderIndex), err)
	}

	blobPath, _, err := req.Store.PutBlob(layer.Digest, compression, blob.Content)
	blob.Content.Close()
	if err != nil {
		return layerArtifact{}, errors.NewAssemblyError("store_blob",
			fmt.Sprintf("failed to store blob for layer %d", layer.OrderIndex), err)
	}

	return layerArtifact{Layer: layer, Blob: *blob, Path: blobPath}, nil
}

// artifactFromCachedBlob rebuilds blob metadata by hashing an existing blob
// file, once over the stored bytes and once over the decompressed stream.
func artifactFromCachedBlob(req *Request, layer types.Layer) (layerArtifact, error) {
	compression := req.Compression.String()

	reader, err := req.Store.OpenBlob(layer.Digest, compression)
	if err != nil {
		return layerArtifact{}, err
	}
	blobDigest, size, err := digestAndCount(reader)
	reader.Close()
	if err != nil {
		return layerArtifact{}, fmt.Errorf("failed to hash cached blob: %v", err)
	}

	reader, err = req.Store.OpenBlob(layer.Digest, compression)
	if err != nil {
		return layerArtifact{}, err
	}
	defer reader.Close()
	decompressed, err := layers.Decompress(reader, req.Compression)
	if err != nil {
		return layerArtifact{}, fmt.Errorf("failed to decompress cached blob: %v", err)
	}
	defer decompressed.Close()
	diffID, _, err := digestAndCount(decompressed)
	if err != nil {
		return layerArtifact{}, fmt.Errorf("failed to hash cached blob stream: %v", err)
	}

	blobPath, _ := req.Store.BlobPath(layer.Digest, compression)
	return layerArtifact{
		Layer: layer,
		Blob: layers.Blob{
			Digest:      blobDigest,
			DiffID:      diffID,
			Size:        size,
			MediaType:   req.Compression.GetMediaType(),
			Compression: req.Compression,
		},
		Path: blobPath,
	}, nil
}

func digestAndCount(r io.Reader) (digest.Digest, int64, error) {
	digester := digest.Canonical.Digester()
	size, err := io.Copy(digester.Hash(), r)
	if err != nil {
		return "", 0, err
	}
	return digester.Digest(), size, nil
}

// commitRecords appends a cache record for every layer this run
// materialized. Called only after the backend's artifact fully landed.
func commitRecords(req *Request, artifacts []layerArtifact, backendName string) error {
	for _, artifact := range artifacts {
		if artifact.Reused {
			continue
		}
		record := &types.CacheRecord{
			LayerDigest: artifact.Layer.Digest,
			BlobDigest:  artifact.Blob.Digest,
			DiffID:      artifact.Blob.DiffID,
			ArtifactRef: artifact.Path,
			MediaType:   artifact.Blob.MediaType,
			Compression: artifact.Blob.Compression.String(),
			Size:        artifact.Blob.Size,
			Backend:     backendName,
			CreatedAt:   time.Now().UTC(),
		}
		if err := req.Store.Append(record); err != nil {
			return errors.NewAssemblyError("commit_records",
				fmt.Sprintf("failed to record layer %d", artifact.Layer.OrderIndex), err)
		}
		req.Logger.LogCacheOperation("record_append", artifact.Layer.Digest.String(), false, artifact.Blob.Size)
	}
	return nil
}

func countReused(artifacts []layerArtifact) (reused, materialized int) {
	for _, artifact := range artifacts {
		if artifact.Reused {
			reused++
		} else {
			materialized++
		}
	}
	return reused, materialized
}
