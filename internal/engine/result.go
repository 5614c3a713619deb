package engine

import (
	"context"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"dirdiff/internal/compare"
	"dirdiff/internal/metrics"
	"dirdiff/internal/pool"
	"dirdiff/internal/progress"
	"dirdiff/internal/record"
)

// Result aggregates the records of one Diff. Records are yielded in three
// categories, each sorted by relative path:
//
//  1. OnlyInFirst
//  2. OnlyInSecond
//  3. ContentDiffer, MtimeDiffer and ComparisonError
//
// The presence categories are known once the trees are reconciled and are
// yielded while the comparison workers are still running.
type Result struct {
	onlyInFirst  []string
	onlyInSecond []string
	walkErrors   []record.Record
	run          *pool.Run[record.Record]
	cancel       context.CancelFunc
	bar          *progress.Bar
	logger       *slog.Logger
	metrics      *metrics.Run

	once sync.Once
	err  error
}

func newResult(partition *compare.Partition, run *pool.Run[record.Record], cancel context.CancelFunc,
	bar *progress.Bar, logger *slog.Logger, m *metrics.Run) *Result {
	sort.Strings(partition.OnlyInFirst)
	sort.Strings(partition.OnlyInSecond)

	walkErrors := make([]record.Record, 0, len(partition.Errors))
	for _, pathErr := range partition.Errors {
		walkErrors = append(walkErrors, record.NewError(pathErr.Path, pathErr.Err))
	}

	return &Result{
		onlyInFirst:  partition.OnlyInFirst,
		onlyInSecond: partition.OnlyInSecond,
		walkErrors:   walkErrors,
		run:          run,
		cancel:       cancel,
		bar:          bar,
		logger:       logger,
		metrics:      m,
	}
}

// Records returns the record sequence. It can be consumed once; later calls
// yield nothing. Stopping early cancels the remaining comparisons. A Result
// that is never ranged over must be closed.
func (r *Result) Records() iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		consumed := true
		r.once.Do(func() { consumed = false })
		if consumed {
			return
		}
		defer r.finish()

		emit := func(rec record.Record) bool {
			if r.metrics != nil {
				r.metrics.Record(rec)
			}
			return yield(rec)
		}

		for _, path := range r.onlyInFirst {
			if !emit(record.NewOnlyInFirst(path)) {
				return
			}
		}
		for _, path := range r.onlyInSecond {
			if !emit(record.NewOnlyInSecond(path)) {
				return
			}
		}

		compared := r.walkErrors
		for rec := range r.run.Results() {
			compared = append(compared, rec)
		}
		sort.Slice(compared, func(i, j int) bool {
			return compared[i].Path < compared[j].Path
		})

		for _, rec := range compared {
			if rec.Kind == record.ComparisonError {
				r.logger.Debug("path not compared", "path", rec.Path, "error", rec.Err)
			}
			if !emit(rec) {
				return
			}
		}
	}
}

// finish stops the workers if they are still running, drains their results
// and records the run error.
func (r *Result) finish() {
	r.cancel()
	for range r.run.Results() {
	}
	r.err = r.run.Wait()
	r.bar.Finish()
	r.logger.Debug("comparison finished", "processed", r.run.Processed(), "total", r.run.Total())
}

// Close releases the comparison workers of a Result whose Records were never
// ranged over. It is a no-op once Records has been called, and must not run
// concurrently with it.
func (r *Result) Close() error {
	unused := false
	r.once.Do(func() { unused = true })
	if unused {
		r.finish()
	}
	return r.err
}

// Err reports why the comparison stopped before every task was processed,
// typically context cancellation. It is valid once Records has been consumed.
func (r *Result) Err() error {
	return r.err
}

// Collect consumes the sequence into a slice.
func (r *Result) Collect() ([]record.Record, error) {
	records := make([]record.Record, 0)
	for rec := range r.Records() {
		records = append(records, rec)
	}
	return records, r.Err()
}
