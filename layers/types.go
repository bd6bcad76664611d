package layers

import (
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
)

// CompressionType represents the compression algorithm used for layer blobs.
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// DefaultCompression is used when a build does not pick one explicitly.
const DefaultCompression = CompressionGzip

// ParseCompression resolves a user-supplied compression name. The empty
// string selects the default.
func ParseCompression(value string) (CompressionType, error) {
	switch value {
	case "":
		return DefaultCompression, nil
	case string(CompressionNone):
		return CompressionNone, nil
	case string(CompressionGzip):
		return CompressionGzip, nil
	case string(CompressionZstd):
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression type: %s", value)
	}
}

// OCI media types for layer blobs.
const (
	MediaTypeImageLayer     = "application/vnd.oci.image.layer.v1.tar"
	MediaTypeImageLayerGzip = "application/vnd.oci.image.layer.v1.tar+gzip"
	MediaTypeImageLayerZstd = "application/vnd.oci.image.layer.v1.tar+zstd"
)

// GetMediaType returns the OCI media type for the compression.
func (c CompressionType) GetMediaType() string {
	switch c {
	case CompressionGzip:
		return MediaTypeImageLayerGzip
	case CompressionZstd:
		return MediaTypeImageLayerZstd
	default:
		return MediaTypeImageLayer
	}
}

func (c CompressionType) String() string {
	return string(c)
}

// Blob is one materialized layer archive. Digest addresses the blob as
// stored (after compression), DiffID addresses the uncompressed tar stream.
type Blob struct {
	Digest      digest.Digest   `json:"digest"`
	DiffID      digest.Digest   `json:"diff_id"`
	Size        int64           `json:"size"`
	MediaType   string          `json:"media_type"`
	Compression CompressionType `json:"compression"`
	Content     io.ReadCloser   `json:"-"`
}

// LayerError represents errors that occur while building or unpacking blobs.
type LayerError struct {
	Operation string
	Layer     string
	Cause     error
}

func (e *LayerError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("layer %s operation %s failed: %v", e.Layer, e.Operation, e.Cause)
	}
	return fmt.Sprintf("layer operation %s failed: %v", e.Operation, e.Cause)
}

func (e *LayerError) Unwrap() error {
	return e.Cause
}

// NewLayerError creates a new LayerError.
func NewLayerError(operation, layer string, cause error) *LayerError {
	return &LayerError{
		Operation: operation,
		Layer:     layer,
		Cause:     cause,
	}
}
