// Package cursor tracks the read position within a single log file across the
// file's whole lifecycle: creation, appends, truncation, deletion, and
// rotation. It is the only component in logs2eca that touches the watched
// file's contents.
package cursor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrDetached is returned by ReadNewLines when the cursor has no open file
// handle, i.e. after Reset or before the first successful Open.
var ErrDetached = errors.New("cursor: no open file")

// Cursor couples an open handle on the watched file with the byte offset of
// the next unread data. While detached (no handle), the cursor waits for the
// file to appear; the offset is meaningful only while a handle is open.
//
// A Cursor is not safe for concurrent use. The watch loop is its only caller
// and performs all mutations from a single goroutine.
type Cursor struct {
	path   string
	file   *os.File
	offset int64
}

// New returns a detached cursor for path. No file is opened until Open or
// ReopenFromStart is called.
func New(path string) *Cursor {
	return &Cursor{path: path}
}

// Path returns the watched file path.
func (c *Cursor) Path() string {
	return c.path
}

// Open opens the file read-only and positions the cursor at the current end
// of file, so content that existed before the watcher started is never read.
// On failure the cursor keeps its previous state and the caller may retry on
// a later filesystem event.
func (c *Cursor) Open() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("cursor: open %q: %w", c.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("cursor: stat %q: %w", c.path, err)
	}

	_ = c.Close()
	c.file = f
	c.offset = info.Size()
	return nil
}

// ReopenFromStart closes any open handle and reopens the file with the offset
// at zero, so the entire current content counts as new. Used when the file
// has been recreated after deletion or replaced by rotation. On failure the
// cursor is left detached.
func (c *Cursor) ReopenFromStart() error {
	c.Reset()
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("cursor: reopen %q: %w", c.path, err)
	}
	c.file = f
	return nil
}

// Reset closes the handle if one is open and detaches the cursor, returning
// the offset to zero. Used when the file is deleted or renamed away and the
// watcher must wait for it to reappear.
func (c *Cursor) Reset() {
	_ = c.Close()
	c.offset = 0
}

// ReadNewLines reads from the current offset to the end of file and returns
// the complete lines found, in file order, with line terminators stripped
// (a trailing carriage return is removed as well). The offset advances to
// just past the last terminator consumed and no further: a trailing fragment
// with no terminator yet is left in place and returned only once its newline
// arrives.
//
// If the file has shrunk below the stored offset, the write position was
// truncated underneath us (copytruncate-style rotation or manual truncation);
// the offset resets to zero and the read starts over from the top of the
// file. Repeated calls with no intervening writes return nil.
func (c *Cursor) ReadNewLines() ([]string, error) {
	if c.file == nil {
		return nil, ErrDetached
	}

	info, err := c.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("cursor: stat %q: %w", c.path, err)
	}
	size := info.Size()

	if size < c.offset {
		c.offset = 0
	}
	if size == c.offset {
		return nil, nil
	}

	buf := make([]byte, size-c.offset)
	n, err := c.file.ReadAt(buf, c.offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("cursor: read %q at offset %d: %w", c.path, c.offset, err)
	}
	buf = buf[:n]

	// Consume only up to the last newline. Anything after it is a partial
	// line still being written.
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		return nil, nil
	}
	c.offset += int64(last) + 1

	var lines []string
	for _, raw := range bytes.Split(buf[:last], []byte{'\n'}) {
		lines = append(lines, string(bytes.TrimSuffix(raw, []byte{'\r'})))
	}
	return lines, nil
}

// Offset returns the byte offset of the next unread data. It is zero while
// the cursor is detached.
func (c *Cursor) Offset() int64 {
	return c.offset
}

// Active reports whether the cursor holds an open file handle.
func (c *Cursor) Active() bool {
	return c.file != nil
}

// Close releases the file handle if one is open. It is idempotent and leaves
// the offset untouched.
func (c *Cursor) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	if err != nil {
		return fmt.Errorf("cursor: close %q: %w", c.path, err)
	}
	return nil
}
