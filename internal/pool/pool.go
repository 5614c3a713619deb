// Package pool runs independent tasks on a fixed number of worker goroutines.
package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// WorkFunc processes one task. ok is false when the task produced no result.
type WorkFunc[T, R any] func(task T) (result R, ok bool)

// Scheduler distributes tasks to workers. Results are unordered.
type Scheduler[T, R any] struct {
	workers int
	work    WorkFunc[T, R]
	onDone  func(task T)
}

type Option[T, R any] func(*Scheduler[T, R])

// WithTaskDone registers a callback invoked by the worker after each task.
func WithTaskDone[T, R any](fn func(task T)) Option[T, R] {
	return func(s *Scheduler[T, R]) { s.onDone = fn }
}

func New[T, R any](workers int, work WorkFunc[T, R], opts ...Option[T, R]) *Scheduler[T, R] {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler[T, R]{workers: workers, work: work}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler[T, R]) Workers() int {
	return s.workers
}

// Run is one execution of a scheduler over a fixed task list.
type Run[R any] struct {
	results   chan R
	group     *errgroup.Group
	processed atomic.Int64
	total     int
}

// Results yields task results and is closed once every worker has exited.
func (r *Run[R]) Results() <-chan R {
	return r.results
}

// Wait blocks until all workers have exited. It returns the context error
// when the run was cancelled before every task was processed.
func (r *Run[R]) Wait() error {
	return r.group.Wait()
}

// Processed is the number of tasks that have completed so far.
func (r *Run[R]) Processed() int {
	return int(r.processed.Load())
}

func (r *Run[R]) Total() int {
	return r.total
}

// Start enqueues tasks and starts the workers. Each task is handed to
// exactly one worker. Once ctx is cancelled no further task is started;
// tasks already running complete.
func (s *Scheduler[T, R]) Start(ctx context.Context, tasks []T) *Run[R] {
	run := &Run[R]{
		results: make(chan R, s.workers),
		total:   len(tasks),
	}

	jobs := make(chan T, len(tasks))
	for _, task := range tasks {
		jobs <- task
	}
	close(jobs)

	group, gctx := errgroup.WithContext(ctx)
	run.group = group

	workers := s.workers
	if workers > len(tasks) {
		workers = max(len(tasks), 1)
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for task := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}

				result, ok := s.work(task)
				run.processed.Add(1)
				if s.onDone != nil {
					s.onDone(task)
				}
				if !ok {
					continue
				}

				select {
				case run.results <- result:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	// Wait for workers to finish and close results
	go func() {
		_ = group.Wait()
		close(run.results)
	}()

	return run
}
