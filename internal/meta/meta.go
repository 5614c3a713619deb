// Package meta resolves the type, size and modification time of a path.
package meta

import (
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Kind is the filesystem entry type after symlink policy resolution.
type Kind uint8

const (
	File Kind = iota
	Directory
	Symlink
	Other
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	default:
		return "other"
	}
}

// Entry is the metadata of one path inside a tree.
type Entry struct {
	Path    string // relative to the tree root
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// KindOf maps a file mode to a Kind.
func KindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return File
	case mode.IsDir():
		return Directory
	case mode&fs.ModeSymlink != 0:
		return Symlink
	default:
		return Other
	}
}

// Stat returns the entry for absPath. When follow is false a symlink is
// reported as Symlink with the link's own size and mtime; when follow is true
// the link is resolved and a dangling link is an error.
func Stat(absPath, relPath string, follow bool) (Entry, error) {
	var (
		info os.FileInfo
		err  error
	)
	if follow {
		info, err = os.Stat(absPath)
	} else {
		info, err = os.Lstat(absPath)
	}
	if err != nil {
		if follow && os.IsNotExist(err) {
			if _, lerr := os.Lstat(absPath); lerr == nil {
				return Entry{}, fmt.Errorf("dangling symlink: %w", err)
			}
		}
		return Entry{}, err
	}

	return FromInfo(relPath, info), nil
}

// FromInfo builds an entry from already fetched file info.
func FromInfo(relPath string, info os.FileInfo) Entry {
	return Entry{
		Path:    relPath,
		Kind:    KindOf(info.Mode()),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
