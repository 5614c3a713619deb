package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

type Bar struct {
	total      int64
	current    int64
	width      int
	writer     io.Writer
	mu         sync.Mutex
	lastPath   string
	enabled    bool
	lastUpdate time.Time
}

// New returns a bar writing to w. The bar stays silent unless w is a terminal.
func New(total int64, w io.Writer) *Bar {
	return &Bar{
		total:      total,
		width:      50,
		writer:     w,
		enabled:    isTerminal(w),
		lastUpdate: time.Now(),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Done records one finished comparison of relPath.
func (b *Bar) Done(relPath string) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	b.lastPath = relPath

	// Update at most every 100ms to reduce flickering
	now := time.Now()
	if now.Sub(b.lastUpdate) > 100*time.Millisecond || b.current == b.total {
		b.lastUpdate = now
		b.render()
	}
}

// render must be called with mu already locked
func (b *Bar) render() {
	if b.total == 0 {
		return
	}

	percent := float64(b.current) / float64(b.total) * 100
	filledWidth := int(float64(b.width) * float64(b.current) / float64(b.total))

	if filledWidth > b.width {
		filledWidth = b.width
	}

	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", b.width-filledWidth)

	var pathDisplay string
	if b.lastPath != "" {
		pathDisplay = " | " + filepath.Dir(b.lastPath)
	}

	// Clear the line and write progress
	fmt.Fprintf(b.writer, "\r\033[K[%s] %3d%% (%d/%d)%s",
		bar, int(percent), b.current, b.total, pathDisplay)
}

func (b *Bar) Finish() {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.total
	b.render()
	fmt.Fprintf(b.writer, "\n")
}
