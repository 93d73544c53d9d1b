package parser

// streaming.go provides reader wrappers applied to export files before they
// reach the JSON token scanner. Neither wrapper buffers more than a few bytes,
// so files of any size stream through in constant memory.
//
//   - BOMSkippingReader: drops a leading UTF-8 BOM, which encoding/json rejects
//   - CountingReader: tracks bytes consumed for pass-level reporting

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	r       *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{r: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (b *BOMSkippingReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head, err := b.r.Peek(len(utf8BOM))
		if err != nil && err != io.EOF {
			return 0, err
		}
		if bytes.Equal(head, utf8BOM) {
			if _, err := b.r.Discard(len(utf8BOM)); err != nil {
				return 0, err
			}
		}
	}
	return b.r.Read(p)
}

// CountingReader wraps an io.Reader to track bytes read. BytesRead is safe to
// call from another goroutine while the parser is reading.
type CountingReader struct {
	r     io.Reader
	n     atomic.Int64
	Total int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: r, Total: total}
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (c *CountingReader) BytesRead() int64 {
	return c.n.Load()
}

// Percent returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (c *CountingReader) Percent() int {
	if c.Total <= 0 {
		return 0
	}
	return int(c.BytesRead() * 100 / c.Total)
}
