// Package report frames a record sequence for a terminal or a file.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"dirdiff/internal/record"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Writer writes records one at a time. Flush must be called once at the end.
type Writer interface {
	Write(r record.Record) error
	Flush() error
}

func New(format Format, w io.Writer) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewText(w), nil
	case FormatJSON:
		return NewJSON(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Text writes one tab separated line per record.
type Text struct {
	w *bufio.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: bufio.NewWriter(w)}
}

func (t *Text) Write(r record.Record) error {
	if _, err := t.w.WriteString(r.String()); err != nil {
		return err
	}
	return t.w.WriteByte('\n')
}

func (t *Text) Flush() error {
	return t.w.Flush()
}

type jsonRecord struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// JSON writes one JSON object per line.
type JSON struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func NewJSON(w io.Writer) *JSON {
	bw := bufio.NewWriter(w)
	return &JSON{w: bw, enc: json.NewEncoder(bw)}
}

func (j *JSON) Write(r record.Record) error {
	out := jsonRecord{Kind: r.Kind.String(), Path: r.Path}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return j.enc.Encode(out)
}

func (j *JSON) Flush() error {
	return j.w.Flush()
}

// Counts tallies the records written, by kind.
type Counts map[record.Kind]int

func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// WriteAll drains records into w and flushes it.
func WriteAll(w Writer, records iter.Seq[record.Record]) (Counts, error) {
	counts := make(Counts)
	for r := range records {
		if err := w.Write(r); err != nil {
			return counts, fmt.Errorf("failed to write record: %w", err)
		}
		counts[r.Kind]++
	}
	if err := w.Flush(); err != nil {
		return counts, fmt.Errorf("failed to flush output: %w", err)
	}
	return counts, nil
}
