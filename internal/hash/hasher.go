package hash

import (
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Block is the xxHash digest of one block of a stream.
type Block struct {
	Sum  uint64
	Size int
}

// Blocks streams r through an xxHash digest and sends one Block per
// blockSize bytes on out; only the last block may be shorter. It returns
// early, without error, once done is closed. out is closed on return.
func Blocks(done <-chan struct{}, r io.Reader, blockSize int, buf []byte, out chan<- Block) error {
	defer close(out)

	h := xxhash.New()
	for {
		h.Reset()
		n, err := io.CopyBuffer(h, io.LimitReader(r, int64(blockSize)), buf)
		if err != nil {
			return fmt.Errorf("failed to read block: %w", err)
		}
		if n == 0 {
			return nil
		}

		select {
		case out <- Block{Sum: h.Sum64(), Size: int(n)}:
		case <-done:
			return nil
		}

		if n < int64(blockSize) {
			return nil
		}
	}
}

// Reader hashes r block by block on its own goroutine. The caller must call
// Stop once it no longer receives from C.
type Reader struct {
	C    <-chan Block
	done chan struct{}
	errc chan error
}

// NewReader starts hashing r. buf is owned by the reader until Stop returns.
func NewReader(r io.Reader, blockSize int, buf []byte) *Reader {
	out := make(chan Block, 1)
	hr := &Reader{
		C:    out,
		done: make(chan struct{}),
		errc: make(chan error, 1),
	}
	go func() {
		hr.errc <- Blocks(hr.done, r, blockSize, buf, out)
	}()
	return hr
}

// Stop ends hashing and waits for the goroutine to exit. It returns the
// read error, if any.
func (hr *Reader) Stop() error {
	close(hr.done)
	return <-hr.errc
}
