package compare

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"dirdiff/internal/config"
	"dirdiff/internal/hash"
	"dirdiff/internal/meta"
	"dirdiff/internal/record"
)

// Outcome is the result of comparing one task.
type Outcome uint8

const (
	Equal Outcome = iota
	Differ
	MtimeOnly
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Equal:
		return "equal"
	case Differ:
		return "differ"
	case MtimeOnly:
		return "mtime_only"
	default:
		return "failed"
	}
}

// OpenFunc opens a file for streaming reads.
type OpenFunc func(path string) (io.ReadCloser, error)

type Option func(*Comparator)

// WithOpener replaces os.Open, mostly to observe I/O in tests.
func WithOpener(open OpenFunc) Option {
	return func(c *Comparator) { c.open = open }
}

// WithReadObserver is called with the number of bytes read from both files
// after every block pair.
func WithReadObserver(observe func(n int)) Option {
	return func(c *Comparator) { c.observe = observe }
}

// Comparator decides whether a path present in both trees is identical.
// It is safe for concurrent use.
type Comparator struct {
	first, second string
	checkMtime    bool
	mode          config.CompareMode
	blockSize     int
	open          OpenFunc
	observe       func(n int)
	buffers       sync.Pool
}

func NewComparator(first, second string, run config.RunConfiguration, opts ...Option) *Comparator {
	c := &Comparator{
		first:      first,
		second:     second,
		checkMtime: run.CheckMtime,
		mode:       run.CompareMode,
		blockSize:  run.BlockSize,
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
	if c.blockSize <= 0 {
		c.blockSize = config.DefaultBlockSize
	}
	for _, opt := range opts {
		opt(c)
	}
	c.buffers.New = func() any {
		buf := make([]byte, 2*c.blockSize)
		return &buf
	}
	return c
}

// Compare classifies task. Each step short-circuits: kind, directory,
// size, then content, then mtime for otherwise equal files.
func (c *Comparator) Compare(task Task) (Outcome, error) {
	a, b := task.First, task.Second

	if a.Kind != b.Kind {
		return Differ, nil
	}

	switch a.Kind {
	case meta.Directory, meta.Other:
		return Equal, nil
	}

	if a.Size != b.Size {
		return Differ, nil
	}

	var (
		same bool
		err  error
	)
	if a.Kind == meta.Symlink {
		same, err = c.sameTarget(task.Path)
	} else {
		same, err = c.sameContent(task.Path)
	}
	if err != nil {
		return Failed, err
	}
	if !same {
		return Differ, nil
	}

	if c.checkMtime && a.Kind == meta.File && !a.ModTime.Equal(b.ModTime) {
		return MtimeOnly, nil
	}
	return Equal, nil
}

// Record converts the comparison of task into a record. Equal paths yield
// no record.
func (c *Comparator) Record(task Task) (record.Record, bool) {
	outcome, err := c.Compare(task)
	switch outcome {
	case Differ:
		return record.NewContentDiffer(task.Path), true
	case MtimeOnly:
		return record.NewMtimeDiffer(task.Path), true
	case Failed:
		return record.NewError(task.Path, err), true
	default:
		return record.Record{}, false
	}
}

func (c *Comparator) sameTarget(relPath string) (bool, error) {
	targetA, err := os.Readlink(filepath.Join(c.first, relPath))
	if err != nil {
		return false, fmt.Errorf("failed to read link in first tree: %w", err)
	}
	targetB, err := os.Readlink(filepath.Join(c.second, relPath))
	if err != nil {
		return false, fmt.Errorf("failed to read link in second tree: %w", err)
	}
	return targetA == targetB, nil
}

func (c *Comparator) sameContent(relPath string) (bool, error) {
	fa, err := c.open(filepath.Join(c.first, relPath))
	if err != nil {
		return false, fmt.Errorf("failed to open file in first tree: %w", err)
	}
	defer fa.Close()

	fb, err := c.open(filepath.Join(c.second, relPath))
	if err != nil {
		return false, fmt.Errorf("failed to open file in second tree: %w", err)
	}
	defer fb.Close()

	bufp := c.buffers.Get().(*[]byte)
	defer c.buffers.Put(bufp)
	bufA := (*bufp)[:c.blockSize]
	bufB := (*bufp)[c.blockSize:]

	if c.mode == config.CompareXXHash {
		return c.sameDigests(fa, fb, bufA, bufB)
	}
	return c.sameBytes(fa, fb, bufA, bufB)
}

// sameBytes reads both files in lockstep and compares each block pair.
func (c *Comparator) sameBytes(fa, fb io.Reader, bufA, bufB []byte) (bool, error) {
	for {
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)
		if c.observe != nil {
			c.observe(nA + nB)
		}
		if !isEnd(errA) {
			return false, fmt.Errorf("failed to read file in first tree: %w", errA)
		}
		if !isEnd(errB) {
			return false, fmt.Errorf("failed to read file in second tree: %w", errB)
		}

		// Sizes matched at walk time, a short block means one side changed since
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}
		if errA != nil || errB != nil {
			return errA != nil && errB != nil, nil
		}
	}
}

// sameDigests hashes each file on its own reader and compares the block
// digests as they arrive, stopping both readers at the first mismatch.
func (c *Comparator) sameDigests(fa, fb io.Reader, bufA, bufB []byte) (bool, error) {
	readerA := hash.NewReader(fa, c.blockSize, bufA)
	readerB := hash.NewReader(fb, c.blockSize, bufB)

	same := c.matchDigests(readerA.C, readerB.C)

	errA := readerA.Stop()
	errB := readerB.Stop()
	if errA != nil {
		return false, fmt.Errorf("failed to hash file in first tree: %w", errA)
	}
	if errB != nil {
		return false, fmt.Errorf("failed to hash file in second tree: %w", errB)
	}
	return same, nil
}

func (c *Comparator) matchDigests(blocksA, blocksB <-chan hash.Block) bool {
	for {
		a, okA := <-blocksA
		b, okB := <-blocksB
		if c.observe != nil {
			c.observe(a.Size + b.Size)
		}
		if !okA || !okB {
			return okA == okB
		}
		if a != b {
			return false
		}
	}
}

func isEnd(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
