package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	gtypes "github.com/google/go-containerregistry/pkg/v1/types"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/layers"
	"github.com/stratumbuild/stratum/plan"
	"github.com/stratumbuild/stratum/registry"
)

// imageTimestamp is the fixed creation time stamped on configs and history.
// Matches the timestamp inside the layer archives.
var imageTimestamp = time.Unix(1, 0).UTC()

const createdBy = "stratum"

// Annotation keys attached to assembled images.
const (
	AnnotationBaseImage  = "org.opencontainers.image.base.name"
	AnnotationPlanID     = "io.stratum.plan.id"
	AnnotationPlanDigest = "io.stratum.plan.digest"
	AnnotationOptionsEnv = "io.stratum.options-env"
)

// cachedLayer adapts a blob in the cache store to the layer interface the
// image library expects. Reads always come from the blob file, so the same
// layer can be consumed several times.
type cachedLayer struct {
	digest      v1.Hash
	diffID      v1.Hash
	size        int64
	mediaType   gtypes.MediaType
	compression layers.CompressionType
	path        string
}

func newCachedLayer(artifact layerArtifact) (*cachedLayer, error) {
	blobHash, err := v1.NewHash(artifact.Blob.Digest.String())
	if err != nil {
		return nil, fmt.Errorf("invalid blob digest for layer %d: %v", artifact.Layer.OrderIndex, err)
	}
	diffHash, err := v1.NewHash(artifact.Blob.DiffID.String())
	if err != nil {
		return nil, fmt.Errorf("invalid diff id for layer %d: %v", artifact.Layer.OrderIndex, err)
	}
	return &cachedLayer{
		digest:      blobHash,
		diffID:      diffHash,
		size:        artifact.Blob.Size,
		mediaType:   gtypes.MediaType(artifact.Blob.MediaType),
		compression: artifact.Blob.Compression,
		path:        artifact.Path,
	}, nil
}

func (l *cachedLayer) Digest() (v1.Hash, error) {
	return l.digest, nil
}

func (l *cachedLayer) DiffID() (v1.Hash, error) {
	return l.diffID, nil
}

func (l *cachedLayer) Size() (int64, error) {
	return l.size, nil
}

func (l *cachedLayer) MediaType() (gtypes.MediaType, error) {
	return l.mediaType, nil
}

func (l *cachedLayer) Compressed() (io.ReadCloser, error) {
	return os.Open(l.path)
}

func (l *cachedLayer) Uncompressed() (io.ReadCloser, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	decompressed, err := layers.Decompress(f, l.compression)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &chainedCloser{ReadCloser: decompressed, underlying: f}, nil
}

// chainedCloser closes the decompression stream and the blob file beneath it.
type chainedCloser struct {
	io.ReadCloser
	underlying io.Closer
}

func (c *chainedCloser) Close() error {
	err := c.ReadCloser.Close()
	if closeErr := c.underlying.Close(); err == nil {
		err = closeErr
	}
	return err
}

// imagePlatform picks the platform for the assembled image: an explicit
// request wins, then whatever the base config carries, then linux/amd64.
func imagePlatform(requested string, baseConfig *v1.ConfigFile) (*v1.Platform, error) {
	if requested != "" {
		return v1.ParsePlatform(requested)
	}
	if baseConfig != nil && baseConfig.OS != "" && baseConfig.Architecture != "" {
		return &v1.Platform{
			OS:           baseConfig.OS,
			Architecture: baseConfig.Architecture,
			Variant:      baseConfig.Variant,
		}, nil
	}
	return &v1.Platform{OS: "linux", Architecture: "amd64"}, nil
}

// entrypointCommand expands the plan's entrypoint with the assembly-time
// args and anchors the executable under the image's application root.
func entrypointCommand(req *Request) ([]string, error) {
	command, err := req.Plan.Entrypoint.Command(req.Args)
	if err != nil {
		return nil, errors.NewInvalidPlanError(fmt.Sprintf("cannot expand entrypoint: %v", err))
	}
	if !strings.HasPrefix(command[0], "/") {
		command[0] = path.Join(plan.TargetRoot, command[0])
	}
	return command, nil
}

// buildImage layers the prepared artifacts on top of the base and writes the
// runtime config derived from the plan.
func buildImage(req *Request, artifacts []layerArtifact, base v1.Image) (v1.Image, error) {
	command, err := entrypointCommand(req)
	if err != nil {
		return nil, err
	}

	baseConfig, err := base.ConfigFile()
	if err != nil {
		return nil, errors.NewAssemblyError("read_base_config", "failed to read base image config", err)
	}

	platform, err := imagePlatform(req.Platform, baseConfig)
	if err != nil {
		return nil, errors.NewAssemblyError("resolve_platform", fmt.Sprintf("invalid platform %q", req.Platform), err)
	}

	config := baseConfig.DeepCopy()
	config.Created = v1.Time{Time: imageTimestamp}
	config.OS = platform.OS
	config.Architecture = platform.Architecture
	config.Variant = platform.Variant
	config.Config.Entrypoint = command
	config.Config.Cmd = nil
	config.Config.WorkingDir = plan.TargetRoot
	if config.Config.Labels == nil {
		config.Config.Labels = make(map[string]string)
	}
	config.Config.Labels[AnnotationPlanID] = req.Plan.ID
	if req.Plan.Entrypoint.OptionsEnv != "" {
		config.Config.Labels[AnnotationOptionsEnv] = req.Plan.Entrypoint.OptionsEnv
	}

	img := mutate.MediaType(base, gtypes.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, gtypes.OCIConfigJSON)
	img, err = mutate.ConfigFile(img, config)
	if err != nil {
		return nil, errors.NewAssemblyError("write_config", "failed to set image config", err)
	}

	addenda := make([]mutate.Addendum, 0, len(artifacts))
	for _, artifact := range artifacts {
		layer, err := newCachedLayer(artifact)
		if err != nil {
			return nil, errors.NewAssemblyError("adapt_layer", "failed to adapt cached blob", err)
		}
		addenda = append(addenda, mutate.Addendum{
			Layer: layer,
			History: v1.History{
				Created:   v1.Time{Time: imageTimestamp},
				CreatedBy: createdBy,
				Comment:   fmt.Sprintf("%s layer (order %d)", artifact.Layer.Class, artifact.Layer.OrderIndex),
			},
		})
	}

	img, err = mutate.Append(img, addenda...)
	if err != nil {
		return nil, errors.NewAssemblyError("append_layers", "failed to append layers to image", err)
	}

	annotated, ok := mutate.Annotations(img, map[string]string{
		AnnotationBaseImage:  req.Plan.BaseImage,
		AnnotationPlanID:     req.Plan.ID,
		AnnotationPlanDigest: req.Plan.Digest.String(),
	}).(v1.Image)
	if !ok {
		return img, nil
	}
	return annotated, nil
}

// resolveBase fetches the plan's base image through the request's registry
// client, creating an anonymous client when none was wired in.
func resolveBase(ctx context.Context, req *Request) (v1.Image, error) {
	client := req.Registry
	if client == nil {
		client = registry.NewClient(nil)
	}
	return client.ResolveBase(ctx, req.Plan.BaseImage, req.Platform)
}
