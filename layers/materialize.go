package layers

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/internal/types"
)

// blobTimestamp is the fixed modification time stamped on every archive
// entry. A constant instant keeps blobs byte-identical across runs; one
// second past the epoch avoids the zero value some tooling treats as unset.
var blobTimestamp = time.Unix(1, 0).UTC()

// Materializer turns planned layers into OCI layer archives. The same layer
// always produces the same bytes: entries are written in path order, file
// modes collapse to 0644 or 0755, ownership is root, and timestamps are
// fixed.
type Materializer struct {
	sourceRoot   string
	targetPrefix string
	compression  CompressionType
}

// NewMaterializer creates a materializer reading file content from
// sourceRoot and placing entries under targetPrefix inside the image.
func NewMaterializer(sourceRoot, targetPrefix string, compression CompressionType) *Materializer {
	if compression == "" {
		compression = DefaultCompression
	}
	return &Materializer{
		sourceRoot:   sourceRoot,
		targetPrefix: strings.Trim(targetPrefix, "/"),
		compression:  compression,
	}
}

// Compression returns the configured compression type.
func (m *Materializer) Compression() CompressionType {
	return m.compression
}

// Materialize builds the archive for one layer. Every entry's content is
// re-hashed while streaming into the archive; a mismatch against the planned
// digest means the tree changed since planning and fails the layer.
func (m *Materializer) Materialize(layer types.Layer) (*Blob, error) {
	if len(layer.Entries) == 0 {
		return nil, NewLayerError("materialize", layer.Digest.String(), fmt.Errorf("layer %d has no entries", layer.OrderIndex))
	}

	entries := make([]types.FileEntry, len(layer.Entries))
	copy(entries, layer.Entries)
	types.SortFileEntries(entries)

	var tarBuf bytes.Buffer
	tarWriter := tar.NewWriter(&tarBuf)
	seenDirs := make(map[string]bool)

	for _, entry := range entries {
		tarName := entry.Path
		if m.targetPrefix != "" {
			tarName = path.Join(m.targetPrefix, entry.Path)
		}
		if err := m.writeParentDirs(tarWriter, tarName, seenDirs); err != nil {
			tarWriter.Close()
			return nil, NewLayerError("materialize", layer.Digest.String(), err)
		}
		if err := m.writeFile(tarWriter, tarName, entry); err != nil {
			tarWriter.Close()
			return nil, NewLayerError("materialize", layer.Digest.String(), err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, NewLayerError("materialize", layer.Digest.String(), fmt.Errorf("failed to close tar writer: %v", err))
	}

	tarBytes := tarBuf.Bytes()
	diffID := digest.FromBytes(tarBytes)

	compressed, err := m.compress(tarBytes)
	if err != nil {
		return nil, NewLayerError("materialize", layer.Digest.String(), fmt.Errorf("failed to compress layer: %v", err))
	}

	return &Blob{
		Digest:      digest.FromBytes(compressed),
		DiffID:      diffID,
		Size:        int64(len(compressed)),
		MediaType:   m.compression.GetMediaType(),
		Compression: m.compression,
		Content:     io.NopCloser(bytes.NewReader(compressed)),
	}, nil
}

// writeParentDirs emits directory headers for every ancestor of tarName that
// has not been written yet, shallowest first.
func (m *Materializer) writeParentDirs(tw *tar.Writer, tarName string, seen map[string]bool) error {
	dir := path.Dir(tarName)
	if dir == "." || dir == "/" {
		return nil
	}

	var missing []string
	for dir != "." && dir != "/" && !seen[dir] {
		missing = append(missing, dir)
		dir = path.Dir(dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(missing)))

	for _, dir := range missing {
		header := &tar.Header{
			Name:     dir + "/",
			Typeflag: tar.TypeDir,
			Mode:     0755,
			ModTime:  blobTimestamp,
			Uid:      0,
			Gid:      0,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write directory %s: %v", dir, err)
		}
		seen[dir] = true
	}
	return nil
}

func (m *Materializer) writeFile(tw *tar.Writer, tarName string, entry types.FileEntry) error {
	sourcePath := filepath.Join(m.sourceRoot, filepath.FromSlash(entry.Path))
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %v", entry.Path, err)
	}
	defer f.Close()

	fileInfo, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %v", entry.Path, err)
	}

	mode := int64(0644)
	if fileInfo.Mode()&0111 != 0 {
		mode = 0755
	}

	header := &tar.Header{
		Name:     tarName,
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     entry.Size,
		ModTime:  blobTimestamp,
		Uid:      0,
		Gid:      0,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write header for %s: %v", entry.Path, err)
	}

	digester := digest.Canonical.Digester()
	written, err := io.Copy(io.MultiWriter(tw, digester.Hash()), f)
	if err != nil {
		return fmt.Errorf("failed to write %s: %v", entry.Path, err)
	}
	if written != entry.Size {
		return fmt.Errorf("size of %s changed since planning: expected %d bytes, found %d", entry.Path, entry.Size, written)
	}
	if actual := digester.Digest(); actual != entry.Digest {
		return fmt.Errorf("content of %s changed since planning: expected %s, found %s", entry.Path, entry.Digest, actual)
	}
	return nil
}

func (m *Materializer) compress(data []byte) ([]byte, error) {
	switch m.compression {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		var buf bytes.Buffer
		gzWriter := gzip.NewWriter(&buf)
		if _, err := gzWriter.Write(data); err != nil {
			return nil, err
		}
		if err := gzWriter.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %v", m.compression)
	}
}

// Decompress wraps r so it yields the uncompressed tar stream.
func Decompress(r io.Reader, compression CompressionType) (io.ReadCloser, error) {
	switch compression {
	case CompressionNone, "":
		return io.NopCloser(r), nil

	case CompressionGzip:
		return gzip.NewReader(r)

	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %v", compression)
	}
}

// Extract unpacks one layer archive under targetPath. Archives produced by
// Materialize only contain directories and regular files.
func Extract(r io.Reader, compression CompressionType, targetPath string) error {
	decompressed, err := Decompress(r, compression)
	if err != nil {
		return NewLayerError("extract", "", fmt.Errorf("failed to decompress: %v", err))
	}
	defer decompressed.Close()

	tarReader := tar.NewReader(decompressed)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewLayerError("extract", "", fmt.Errorf("failed to read tar header: %v", err))
		}

		cleaned := path.Clean(header.Name)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
			return NewLayerError("extract", "", fmt.Errorf("archive entry %s escapes target", header.Name))
		}
		entryPath := filepath.Join(targetPath, filepath.FromSlash(cleaned))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(entryPath, os.FileMode(header.Mode)); err != nil {
				return NewLayerError("extract", "", fmt.Errorf("failed to create %s: %v", header.Name, err))
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(entryPath), 0755); err != nil {
				return NewLayerError("extract", "", fmt.Errorf("failed to create parent of %s: %v", header.Name, err))
			}
			f, err := os.OpenFile(entryPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return NewLayerError("extract", "", fmt.Errorf("failed to create %s: %v", header.Name, err))
			}
			if _, err := io.Copy(f, tarReader); err != nil {
				f.Close()
				return NewLayerError("extract", "", fmt.Errorf("failed to write %s: %v", header.Name, err))
			}
			if err := f.Close(); err != nil {
				return NewLayerError("extract", "", fmt.Errorf("failed to close %s: %v", header.Name, err))
			}

		default:
			return NewLayerError("extract", "", fmt.Errorf("unsupported tar entry type %v for %s", header.Typeflag, header.Name))
		}
	}
	return nil
}
