package classify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar"
	"github.com/karrick/godirwalk"
	"github.com/opencontainers/go-digest"

	"github.com/stratumbuild/stratum/internal/errors"
	"github.com/stratumbuild/stratum/internal/types"
)

// ScanOptions controls the build-tree walk.
type ScanOptions struct {
	// Excludes are doublestar patterns matched against slash-separated
	// relative paths; matching files are left out of the plan.
	Excludes []string
}

// Scanner walks a build-output tree and produces one FileEntry per regular
// file, content digest included. Results are sorted by path so downstream
// stages never observe filesystem iteration order.
type Scanner struct {
	root    string
	options ScanOptions
}

// NewScanner creates a scanner rooted at the given directory.
func NewScanner(root string, options ScanOptions) *Scanner {
	return &Scanner{root: root, options: options}
}

// Scan walks the tree and returns one entry per file. Symlinks are followed
// and hashed by target content; irregular files are rejected.
func (s *Scanner) Scan() ([]types.FileEntry, error) {
	info, err := os.Stat(s.root)
	if err != nil {
		return nil, errors.NewFilesystemError("scan", fmt.Sprintf("cannot read build output tree %s", s.root), err)
	}
	if !info.IsDir() {
		return nil, errors.NewFilesystemError("scan", fmt.Sprintf("%s is not a directory", s.root), nil)
	}

	var entries []types.FileEntry
	err = godirwalk.Walk(s.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(s.root, osPathname)
			if err != nil {
				return err
			}
			relPath := filepath.ToSlash(rel)
			if s.excluded(relPath) {
				return nil
			}
			if de.IsSymlink() {
				target, err := os.Stat(osPathname)
				if err != nil {
					return errors.NewFilesystemError("scan", fmt.Sprintf("broken symlink %s", relPath), err)
				}
				if target.IsDir() {
					return nil
				}
				if !target.Mode().IsRegular() {
					return errors.NewFilesystemError("scan", fmt.Sprintf("symlink %s resolves to an irregular file", relPath), nil)
				}
			} else if !de.IsRegular() {
				return errors.NewFilesystemError("scan", fmt.Sprintf("irregular file %s cannot be planned", relPath), nil)
			}
			entry, err := s.hashFile(osPathname, relPath)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		},
	})
	if err != nil {
		if _, ok := errors.AsPlanError(err); ok {
			return nil, err
		}
		return nil, errors.NewFilesystemError("scan", fmt.Sprintf("failed to walk %s", s.root), err)
	}

	types.SortFileEntries(entries)
	return entries, nil
}

// hashFile computes size and content digest for one file.
func (s *Scanner) hashFile(osPathname, relPath string) (types.FileEntry, error) {
	f, err := os.Open(osPathname)
	if err != nil {
		return types.FileEntry{}, errors.NewFilesystemError("scan", fmt.Sprintf("failed to open %s", relPath), err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return types.FileEntry{}, errors.NewFilesystemError("scan", fmt.Sprintf("failed to stat %s", relPath), err)
	}

	d, err := digest.FromReader(f)
	if err != nil {
		return types.FileEntry{}, errors.NewFilesystemError("scan", fmt.Sprintf("failed to hash %s", relPath), err)
	}

	return types.FileEntry{
		Path:   relPath,
		Size:   fi.Size(),
		Digest: d,
	}, nil
}

func (s *Scanner) excluded(relPath string) bool {
	for _, pattern := range s.options.Excludes {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
