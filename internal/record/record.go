// Package record defines the classified outcomes of a directory comparison.
package record

import (
	"fmt"
	"strconv"
)

// Kind tags a Record.
type Kind uint8

const (
	OnlyInFirst Kind = iota
	OnlyInSecond
	ContentDiffer
	MtimeDiffer
	ComparisonError
)

func (k Kind) String() string {
	switch k {
	case OnlyInFirst:
		return "only_in_first"
	case OnlyInSecond:
		return "only_in_second"
	case ContentDiffer:
		return "content_differ"
	case MtimeDiffer:
		return "mtime_differ"
	case ComparisonError:
		return "error"
	default:
		return "unknown"
	}
}

// Tag is the bracketed label used by the text rendering.
func (k Kind) Tag() string {
	switch k {
	case OnlyInFirst:
		return "Present in first dir. only"
	case OnlyInSecond:
		return "Present in second dir. only"
	case ContentDiffer:
		return "Files differ"
	case MtimeDiffer:
		return "Differ by mtime only"
	case ComparisonError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Record is one relative path that is not identical across both trees.
// Err is set only for ComparisonError.
type Record struct {
	Kind Kind
	Path string
	Err  error
}

func NewOnlyInFirst(path string) Record {
	return Record{Kind: OnlyInFirst, Path: path}
}

func NewOnlyInSecond(path string) Record {
	return Record{Kind: OnlyInSecond, Path: path}
}

func NewContentDiffer(path string) Record {
	return Record{Kind: ContentDiffer, Path: path}
}

func NewMtimeDiffer(path string) Record {
	return Record{Kind: MtimeDiffer, Path: path}
}

func NewError(path string, err error) Record {
	return Record{Kind: ComparisonError, Path: path, Err: err}
}

// String renders the record as one tab separated line without a newline:
//
//	[Files differ]	"relative/path"
//
// Errors carry their cause as a third column.
func (r Record) String() string {
	line := fmt.Sprintf("[%s]\t%s", r.Kind.Tag(), strconv.Quote(r.Path))
	if r.Kind == ComparisonError && r.Err != nil {
		line += "\t" + r.Err.Error()
	}
	return line
}
