package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dirdiff/internal/meta"
)

var ErrSymlinkCycle = errors.New("symlink cycle detected")

// Snapshot maps relative paths of one tree to their metadata. Paths that
// could not be read are kept in Errors instead of Entries.
type Snapshot struct {
	Root    string
	Entries map[string]meta.Entry
	Errors  map[string]error
}

type Options struct {
	FollowSymlinks bool
	Exclude        []string
}

type walker struct {
	snap   *Snapshot
	opts   Options
	active map[string]bool // real paths on the current descent chain
}

// Walk enumerates rootPath recursively. Only a failure to read the root
// itself, or ctx cancellation, is returned as an error.
func Walk(ctx context.Context, rootPath string, opts Options) (*Snapshot, error) {
	w := &walker{
		snap: &Snapshot{
			Root:    rootPath,
			Entries: make(map[string]meta.Entry),
			Errors:  make(map[string]error),
		},
		opts:   opts,
		active: make(map[string]bool),
	}

	var realRoot string
	if opts.FollowSymlinks {
		var err error
		realRoot, err = filepath.EvalSymlinks(rootPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root: %w", err)
		}
	}

	entries, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}

	if err := w.walkEntries(ctx, rootPath, "", realRoot, entries); err != nil {
		return nil, err
	}

	return w.snap, nil
}

func (w *walker) walkDir(ctx context.Context, absDir, relDir, realDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		// Siblings keep walking, the directory itself becomes an error.
		w.fail(relDir, err)
		return nil
	}

	return w.walkEntries(ctx, absDir, relDir, realDir, entries)
}

func (w *walker) walkEntries(ctx context.Context, absDir, relDir, realDir string, entries []fs.DirEntry) error {
	if realDir != "" {
		w.active[realDir] = true
		defer delete(w.active, realDir)
	}

	for _, d := range entries {
		relPath := d.Name()
		if relDir != "" {
			relPath = filepath.Join(relDir, d.Name())
		}
		absPath := filepath.Join(absDir, d.Name())

		if shouldExclude(relPath, w.opts.Exclude) {
			continue
		}

		isLink := d.Type()&fs.ModeSymlink != 0
		entry, err := w.stat(d, absPath, relPath, isLink)
		if err != nil {
			w.fail(relPath, err)
			continue
		}
		w.snap.Entries[relPath] = entry

		if entry.Kind != meta.Directory {
			continue
		}

		var realPath string
		if w.opts.FollowSymlinks {
			if isLink {
				realPath, err = filepath.EvalSymlinks(absPath)
				if err != nil {
					w.fail(relPath, err)
					continue
				}
			} else {
				realPath = filepath.Join(realDir, d.Name())
			}
			if w.active[realPath] {
				w.fail(relPath, fmt.Errorf("%w: %s -> %s", ErrSymlinkCycle, relPath, realPath))
				continue
			}
		}

		if err := w.walkDir(ctx, absPath, relPath, realPath); err != nil {
			return err
		}
	}

	return nil
}

func (w *walker) stat(d fs.DirEntry, absPath, relPath string, isLink bool) (meta.Entry, error) {
	if isLink && w.opts.FollowSymlinks {
		return meta.Stat(absPath, relPath, true)
	}
	info, err := d.Info()
	if err != nil {
		return meta.Entry{}, err
	}
	return meta.FromInfo(relPath, info), nil
}

func (w *walker) fail(relPath string, err error) {
	delete(w.snap.Entries, relPath)
	w.snap.Errors[relPath] = err
}

func shouldExclude(relPath string, exclusions []string) bool {
	for _, pattern := range exclusions {
		// Handle directory exclusions (patterns ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			// Check if the current path or any parent matches the directory pattern
			parts := strings.Split(relPath, string(filepath.Separator))
			for _, part := range parts {
				if matched, _ := filepath.Match(dirPattern, part); matched {
					return true
				}
			}
		} else {
			matched, err := filepath.Match(pattern, filepath.Base(relPath))
			if err == nil && matched {
				return true
			}
			// Patterns with a separator match against the full relative path
			if strings.Contains(pattern, "/") {
				matched, err := filepath.Match(filepath.FromSlash(pattern), relPath)
				if err == nil && matched {
					return true
				}
			}
		}
	}
	return false
}
