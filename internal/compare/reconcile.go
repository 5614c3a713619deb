package compare

import (
	"errors"
	"fmt"

	"dirdiff/internal/meta"
	"dirdiff/internal/walker"
)

// Task is one path present in both trees, waiting for a content comparison.
type Task struct {
	Path   string
	First  meta.Entry
	Second meta.Entry
}

// PathError is a path that could not be read in at least one tree.
type PathError struct {
	Path string
	Err  error
}

// Partition splits the union of two snapshots. Slices are unordered.
type Partition struct {
	OnlyInFirst  []string
	OnlyInSecond []string
	Errors       []PathError
	Tasks        []Task
}

// Size is the number of distinct paths covered by the partition.
func (p *Partition) Size() int {
	return len(p.OnlyInFirst) + len(p.OnlyInSecond) + len(p.Errors) + len(p.Tasks)
}

// Reconcile partitions the paths of two completed snapshots. A path that
// failed in either walk is reported once as an error and never becomes a task.
func Reconcile(first, second *walker.Snapshot) *Partition {
	result := &Partition{
		OnlyInFirst:  make([]string, 0),
		OnlyInSecond: make([]string, 0),
		Errors:       make([]PathError, 0, len(first.Errors)+len(second.Errors)),
		Tasks:        make([]Task, 0),
	}

	for path, firstErr := range first.Errors {
		err := fmt.Errorf("first: %w", firstErr)
		if secondErr, ok := second.Errors[path]; ok {
			err = errors.Join(err, fmt.Errorf("second: %w", secondErr))
		}
		result.Errors = append(result.Errors, PathError{Path: path, Err: err})
	}
	for path, secondErr := range second.Errors {
		if _, ok := first.Errors[path]; ok {
			continue
		}
		result.Errors = append(result.Errors, PathError{Path: path, Err: fmt.Errorf("second: %w", secondErr)})
	}

	// Check for paths in the first tree and paths in both
	for path, firstEntry := range first.Entries {
		if _, failed := second.Errors[path]; failed {
			continue
		}
		if secondEntry, exists := second.Entries[path]; exists {
			result.Tasks = append(result.Tasks, Task{
				Path:   path,
				First:  firstEntry,
				Second: secondEntry,
			})
		} else {
			result.OnlyInFirst = append(result.OnlyInFirst, path)
		}
	}

	// Check for paths only in the second tree
	for path := range second.Entries {
		if _, failed := first.Errors[path]; failed {
			continue
		}
		if _, exists := first.Entries[path]; !exists {
			result.OnlyInSecond = append(result.OnlyInSecond, path)
		}
	}

	return result
}
