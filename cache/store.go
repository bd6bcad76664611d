package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// Store is the on-disk layer cache. It keeps two areas under its base
// directory: records/ holds one JSON record per (layer digest, compression)
// pair, and blobs/ holds the materialized layer archives, content-addressed
// by layer digest. Records are write-once and only appended after a layer
// reached its destination; blobs are written during assembly and survive
// failed runs so a retry can pick them up.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// DefaultDir returns the per-user cache location.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewCacheError("resolve_dir", "failed to resolve user home directory", err)
	}
	return filepath.Join(homeDir, ".stratum", "cache"), nil
}

// Open prepares a store at baseDir, creating the directory layout if needed.
// An empty baseDir selects DefaultDir.
func Open(baseDir string) (*Store, error) {
	if baseDir == "" {
		defaultDir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = defaultDir
	}

	for _, sub := range []string{"records", "blobs", "tmp"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, errors.NewCacheError("open", fmt.Sprintf("failed to create cache directory %s", filepath.Join(baseDir, sub)), err)
		}
	}

	return &Store{baseDir: baseDir}, nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// Get looks up the record for a layer digest at a given compression.
func (s *Store) Get(layerDigest digest.Digest, compression string) (*types.CacheRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.recordPath(layerDigest, compression))
	if err != nil {
		return nil, false
	}

	var record types.CacheRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false
	}
	return &record, true
}

// Append persists a record after its artifact landed. A record that already
// exists for the same digest and compression is kept as-is: the first write
// wins and later appends are no-ops.
func (s *Store) Append(record *types.CacheRecord) error {
	if record == nil {
		return errors.NewCacheError("append", "cannot append nil cache record", nil)
	}
	if err := record.LayerDigest.Validate(); err != nil {
		return errors.NewCacheError("append", fmt.Sprintf("invalid layer digest %q", record.LayerDigest), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recordPath := s.recordPath(record.LayerDigest, record.Compression)
	if _, err := os.Stat(recordPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(recordPath), 0755); err != nil {
		return errors.NewCacheError("append", "failed to create record directory", err)
	}

	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return errors.NewCacheError("append", "failed to marshal cache record", err)
	}
	if err := os.WriteFile(recordPath, data, 0644); err != nil {
		return errors.NewCacheError("append", "failed to write cache record", err)
	}
	return nil
}

// Snapshot returns a stable copy of every record in the store, sorted by
// layer digest then compression. Callers get their own slice; the store is
// only read-locked for the duration.
func (s *Store) Snapshot() ([]types.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []types.CacheRecord
	recordsDir := filepath.Join(s.baseDir, "records")
	err := filepath.Walk(recordsDir, func(path string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fileInfo.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var record types.CacheRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return nil, errors.NewCacheError("snapshot", "failed to walk cache records", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].LayerDigest != records[j].LayerDigest {
			return records[i].LayerDigest < records[j].LayerDigest
		}
		return records[i].Compression < records[j].Compression
	})
	return records, nil
}

// HasBlob reports whether a materialized archive for the layer digest exists.
func (s *Store) HasBlob(layerDigest digest.Digest, compression string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fileInfo, err := os.Stat(s.blobPath(layerDigest, compression))
	return err == nil && fileInfo.Mode().IsRegular()
}

// BlobPath returns the on-disk location of a layer archive and whether it
// exists yet.
func (s *Store) BlobPath(layerDigest digest.Digest, compression string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blobPath := s.blobPath(layerDigest, compression)
	_, err := os.Stat(blobPath)
	return blobPath, err == nil
}

// PutBlob streams an archive into the blob area. The write goes to a
// temporary file first and is renamed into place, so a crashed run never
// leaves a half-written blob at the final path.
func (s *Store) PutBlob(layerDigest digest.Digest, compression string, src io.Reader) (string, int64, error) {
	if err := layerDigest.Validate(); err != nil {
		return "", 0, errors.NewCacheError("put_blob", fmt.Sprintf("invalid layer digest %q", layerDigest), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blobPath := s.blobPath(layerDigest, compression)
	if fileInfo, err := os.Stat(blobPath); err == nil {
		if _, err := io.Copy(io.Discard, src); err != nil {
			return "", 0, errors.NewCacheError("put_blob", "failed to drain blob source", err)
		}
		return blobPath, fileInfo.Size(), nil
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		return "", 0, errors.NewCacheError("put_blob", "failed to create blob directory", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.baseDir, "tmp"), "blob-*")
	if err != nil {
		return "", 0, errors.NewCacheError("put_blob", "failed to create temporary blob file", err)
	}
	tmpPath := tmpFile.Name()

	written, err := io.Copy(tmpFile, src)
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", 0, errors.NewCacheError("put_blob", "failed to write blob", err)
	}

	if err := os.Rename(tmpPath, blobPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, errors.NewCacheError("put_blob", "failed to commit blob", err)
	}
	return blobPath, written, nil
}

// OpenBlob opens a cached archive for reading.
func (s *Store) OpenBlob(layerDigest digest.Digest, compression string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.blobPath(layerDigest, compression))
	if err != nil {
		return nil, errors.NewCacheError("open_blob", fmt.Sprintf("no cached blob for %s", layerDigest), err)
	}
	return f, nil
}

// Info summarizes the store for display.
func (s *Store) Info() (*types.CacheInfo, error) {
	records, err := s.Snapshot()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info := &types.CacheInfo{
		Location:     s.baseDir,
		TotalRecords: len(records),
	}
	for _, record := range records {
		if info.OldestRecord.IsZero() || record.CreatedAt.Before(info.OldestRecord) {
			info.OldestRecord = record.CreatedAt
		}
		if record.CreatedAt.After(info.NewestRecord) {
			info.NewestRecord = record.CreatedAt
		}
	}

	blobsDir := filepath.Join(s.baseDir, "blobs")
	err = filepath.Walk(blobsDir, func(path string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fileInfo.IsDir() {
			info.TotalBlobs++
			info.TotalSize += fileInfo.Size()
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewCacheError("info", "failed to walk cache blobs", err)
	}
	return info, nil
}

// Prune removes records older than maxAge, then any blob no remaining record
// refers to. It returns the number of files removed and the blob bytes
// reclaimed. A maxAge of zero prunes everything.
func (s *Store) Prune(maxAge time.Duration) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	live := make(map[string]bool)

	recordsDir := filepath.Join(s.baseDir, "records")
	err := filepath.Walk(recordsDir, func(path string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fileInfo.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var record types.CacheRecord
		if err := json.Unmarshal(data, &record); err != nil || !record.CreatedAt.After(cutoff) {
			if removeErr := os.Remove(path); removeErr == nil {
				removed++
			}
			return nil
		}
		live[s.blobPath(record.LayerDigest, record.Compression)] = true
		return nil
	})
	if err != nil {
		return removed, 0, errors.NewCacheError("prune", "failed to walk cache records", err)
	}

	var reclaimed int64
	blobsDir := filepath.Join(s.baseDir, "blobs")
	err = filepath.Walk(blobsDir, func(path string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fileInfo.IsDir() || live[path] {
			return nil
		}
		size := fileInfo.Size()
		if removeErr := os.Remove(path); removeErr == nil {
			removed++
			reclaimed += size
		}
		return nil
	})
	if err != nil {
		return removed, reclaimed, errors.NewCacheError("prune", "failed to walk cache blobs", err)
	}

	s.removeEmptyDirs(recordsDir)
	s.removeEmptyDirs(blobsDir)
	return removed, reclaimed, nil
}

// Clear wipes every record and blob.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range []string{"records", "blobs", "tmp"} {
		dir := filepath.Join(s.baseDir, sub)
		if err := os.RemoveAll(dir); err != nil {
			return errors.NewCacheError("clear", fmt.Sprintf("failed to remove %s", dir), err)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewCacheError("clear", fmt.Sprintf("failed to recreate %s", dir), err)
		}
	}
	return nil
}

func (s *Store) recordPath(layerDigest digest.Digest, compression string) string {
	encoded := layerDigest.Encoded()
	name := fmt.Sprintf("%s-%s.json", encoded, normalizeCompression(compression))
	return filepath.Join(s.baseDir, "records", encoded[:2], encoded[2:4], name)
}

func (s *Store) blobPath(layerDigest digest.Digest, compression string) string {
	encoded := layerDigest.Encoded()
	name := encoded + blobExtension(compression)
	return filepath.Join(s.baseDir, "blobs", encoded[:2], encoded[2:4], name)
}

func (s *Store) removeEmptyDirs(root string) {
	var dirs []string
	filepath.Walk(root, func(path string, fileInfo os.FileInfo, err error) error {
		if err == nil && fileInfo.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	// Deepest first so emptied parents go too.
	sort.Slice(dirs, func(i, j int) bool {
		return len(dirs[i]) > len(dirs[j])
	})
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}
}

func normalizeCompression(compression string) string {
	if compression == "" {
		return "none"
	}
	return compression
}

func blobExtension(compression string) string {
	switch compression {
	case "gzip":
		return ".tar.gz"
	case "zstd":
		return ".tar.zst"
	default:
		return ".tar"
	}
}
