// Package engine compares two directory trees: it walks both roots
// concurrently, reconciles their paths, compares the paths present in both on
// a worker pool and exposes the outcome as an ordered record sequence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"dirdiff/internal/compare"
	"dirdiff/internal/config"
	"dirdiff/internal/meta"
	"dirdiff/internal/metrics"
	"dirdiff/internal/pool"
	"dirdiff/internal/progress"
	"dirdiff/internal/record"
	"dirdiff/internal/walker"
)

var (
	ErrRootNotExist     = errors.New("root does not exist")
	ErrRootNotDirectory = errors.New("root is not a directory")
)

type Engine struct {
	run      config.RunConfiguration
	logger   *slog.Logger
	metrics  *metrics.Run
	progress io.Writer
	opts     []compare.Option
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Run) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithProgress renders a progress bar of the comparison phase on w when w
// is a terminal.
func WithProgress(w io.Writer) Option {
	return func(e *Engine) { e.progress = w }
}

// WithComparatorOptions passes options through to the content comparator.
func WithComparatorOptions(opts ...compare.Option) Option {
	return func(e *Engine) { e.opts = append(e.opts, opts...) }
}

func New(run config.RunConfiguration, opts ...Option) *Engine {
	e := &Engine{run: run}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Diff walks first and second, reconciles them and starts comparing the
// paths present in both. Only root level failures are returned; everything
// else ends up in the record sequence of the returned Result.
func (e *Engine) Diff(ctx context.Context, first, second string) (*Result, error) {
	rootFirst, err := ResolveRoot(first, e.run.FollowRootSymlinks)
	if err != nil {
		return nil, err
	}
	rootSecond, err := ResolveRoot(second, e.run.FollowRootSymlinks)
	if err != nil {
		return nil, err
	}

	walkOpts := walker.Options{
		FollowSymlinks: e.run.FollowSymlinks,
		Exclude:        e.run.Exclude,
	}

	var snapFirst, snapSecond *walker.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := e.walk(gctx, "first", rootFirst, walkOpts)
		snapFirst = snap
		return err
	})
	g.Go(func() error {
		snap, err := e.walk(gctx, "second", rootSecond, walkOpts)
		snapSecond = snap
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	partition := compare.Reconcile(snapFirst, snapSecond)
	e.logger.Debug("trees reconciled",
		"paths", partition.Size(),
		"only_in_first", len(partition.OnlyInFirst),
		"only_in_second", len(partition.OnlyInSecond),
		"errors", len(partition.Errors),
		"tasks", len(partition.Tasks))

	return e.start(ctx, rootFirst, rootSecond, partition), nil
}

func (e *Engine) walk(ctx context.Context, tree, root string, opts walker.Options) (*walker.Snapshot, error) {
	e.logger.Debug("walking tree", "tree", tree, "root", root)

	snap, err := walker.Walk(ctx, root, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s tree: %w", tree, err)
	}

	e.logger.Debug("tree walked", "tree", tree, "entries", len(snap.Entries), "errors", len(snap.Errors))
	if e.metrics != nil {
		e.metrics.Walked(tree, len(snap.Entries), len(snap.Errors))
	}
	return snap, nil
}

func (e *Engine) start(ctx context.Context, first, second string, partition *compare.Partition) *Result {
	opts := append([]compare.Option(nil), e.opts...)
	if e.metrics != nil {
		opts = append(opts, compare.WithReadObserver(e.metrics.BytesRead))
	}
	comparator := compare.NewComparator(first, second, e.run, opts...)

	var bar *progress.Bar
	if e.progress != nil {
		bar = progress.New(int64(len(partition.Tasks)), e.progress)
	}

	scheduler := pool.New(e.run.Workers, comparator.Record,
		pool.WithTaskDone[compare.Task, record.Record](func(task compare.Task) {
			if e.metrics != nil {
				e.metrics.TaskDone()
			}
			bar.Done(task.Path)
		}))

	e.logger.Debug("comparing", "tasks", len(partition.Tasks), "workers", scheduler.Workers())
	if e.metrics != nil {
		e.metrics.Workers(scheduler.Workers())
	}

	runCtx, cancel := context.WithCancel(ctx)
	return newResult(partition, scheduler.Start(runCtx, partition.Tasks), cancel, bar, e.logger, e.metrics)
}

// ResolveRoot validates a root argument. A symlinked root is accepted when
// its target is a directory; it is replaced by that target only when follow
// is true, otherwise it is walked through the link.
func ResolveRoot(path string, follow bool) (string, error) {
	entry, err := meta.Stat(path, path, true)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s: %w", ErrRootNotExist, path, err)
		}
		return "", fmt.Errorf("failed to stat root %s: %w", path, err)
	}
	if entry.Kind != meta.Directory {
		return "", fmt.Errorf("%w: %s is a %s", ErrRootNotDirectory, path, entry.Kind)
	}

	if follow {
		path, err = filepath.EvalSymlinks(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve root %s: %w", path, err)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return abs, nil
}
