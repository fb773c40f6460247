package cursor_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wyrmiyu/logs2eca/internal/cursor"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newLogFile creates a file with the given initial content in a temp
// directory and returns its path.
func newLogFile(t *testing.T, initial string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, []byte(initial), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// appendString appends s to the file at path, as a writer process would.
func appendString(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("OpenFile for append: %v", err)
	}
	if _, err := f.WriteString(s); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close after append: %v", err)
	}
}

// openCursor creates a cursor for path and opens it, failing the test on
// error.
func openCursor(t *testing.T, path string) *cursor.Cursor {
	t.Helper()
	c := cursor.New(path)
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

// readLines calls ReadNewLines and fails the test on error.
func readLines(t *testing.T, c *cursor.Cursor) []string {
	t.Helper()
	lines, err := c.ReadNewLines()
	if err != nil {
		t.Fatalf("ReadNewLines: %v", err)
	}
	return lines
}

// equalLines compares two string slices.
func equalLines(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Open semantics
// ---------------------------------------------------------------------------

// TestOpen_SeeksToEnd verifies that content present before Open is never
// returned, while content appended afterwards is.
func TestOpen_SeeksToEnd(t *testing.T) {
	path := newLogFile(t, "old line one\nold line two\n")
	c := openCursor(t, path)
	defer c.Close()

	if lines := readLines(t, c); lines != nil {
		t.Fatalf("ReadNewLines returned pre-existing content: %q", lines)
	}

	appendString(t, path, "new line\n")
	if lines := readLines(t, c); !equalLines(lines, []string{"new line"}) {
		t.Errorf("ReadNewLines = %q, want [new line]", lines)
	}
}

// TestOpen_MissingFile verifies that opening a nonexistent path returns an
// error and leaves the cursor detached.
func TestOpen_MissingFile(t *testing.T) {
	c := cursor.New(filepath.Join(t.TempDir(), "absent.log"))
	if err := c.Open(); err == nil {
		t.Fatal("expected error opening missing file, got nil")
	}
	if c.Active() {
		t.Error("Active() = true after failed Open, want false")
	}
	if c.Offset() != 0 {
		t.Errorf("Offset() = %d after failed Open, want 0", c.Offset())
	}
}

// TestOpen_FailureKeepsPreviousHandle verifies that a failed re-Open does not
// tear down an already-open handle.
func TestOpen_FailureKeepsPreviousHandle(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Open(); err == nil {
		t.Fatal("expected error re-opening removed file, got nil")
	}
	if !c.Active() {
		t.Error("Active() = false after failed re-Open, want true")
	}
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// TestReadNewLines_ReturnsAppendedLinesInOrder verifies ordering and that
// empty lines are preserved as entries.
func TestReadNewLines_ReturnsAppendedLinesInOrder(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	appendString(t, path, "first\n\nthird\n")
	want := []string{"first", "", "third"}
	if lines := readLines(t, c); !equalLines(lines, want) {
		t.Errorf("ReadNewLines = %q, want %q", lines, want)
	}
}

// TestReadNewLines_PartialLineHeldBack verifies that a fragment without a
// terminator is neither returned nor consumed, and is delivered whole once
// its newline arrives.
func TestReadNewLines_PartialLineHeldBack(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	appendString(t, path, "foo")
	if lines := readLines(t, c); lines != nil {
		t.Fatalf("ReadNewLines returned partial line: %q", lines)
	}
	if c.Offset() != 0 {
		t.Fatalf("Offset() = %d after partial read, want 0", c.Offset())
	}

	appendString(t, path, " bar\n")
	if lines := readLines(t, c); !equalLines(lines, []string{"foo bar"}) {
		t.Errorf("ReadNewLines = %q, want [foo bar]", lines)
	}
}

// TestReadNewLines_StripsCarriageReturn verifies CRLF terminators are
// stripped along with the newline.
func TestReadNewLines_StripsCarriageReturn(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	appendString(t, path, "windows line\r\nplain line\n")
	want := []string{"windows line", "plain line"}
	if lines := readLines(t, c); !equalLines(lines, want) {
		t.Errorf("ReadNewLines = %q, want %q", lines, want)
	}
}

// TestReadNewLines_NoNewData verifies that repeated reads without writes
// return nil and do not move the offset.
func TestReadNewLines_NoNewData(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	appendString(t, path, "only line\n")
	readLines(t, c)

	before := c.Offset()
	if lines := readLines(t, c); lines != nil {
		t.Errorf("second ReadNewLines = %q, want nil", lines)
	}
	if c.Offset() != before {
		t.Errorf("Offset() moved from %d to %d without new data", before, c.Offset())
	}
}

// TestReadNewLines_OffsetAdvancesMonotonically verifies that across a series
// of appends and reads the offset never moves backwards.
func TestReadNewLines_OffsetAdvancesMonotonically(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	prev := c.Offset()
	for i := 0; i < 10; i++ {
		appendString(t, path, "line\n")
		readLines(t, c)
		if c.Offset() < prev {
			t.Fatalf("Offset() decreased from %d to %d", prev, c.Offset())
		}
		prev = c.Offset()
	}
	if prev != int64(10*len("line\n")) {
		t.Errorf("final Offset() = %d, want %d", prev, 10*len("line\n"))
	}
}

// TestReadNewLines_TruncationResetsOffset verifies the copytruncate guard:
// when the file shrinks below the stored offset, reading restarts from the
// top of the file.
func TestReadNewLines_TruncationResetsOffset(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	appendString(t, path, "a long line before truncation\n")
	readLines(t, c)

	if err := os.Truncate(path, 0); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	appendString(t, path, "fresh\n")

	if lines := readLines(t, c); !equalLines(lines, []string{"fresh"}) {
		t.Errorf("ReadNewLines after truncation = %q, want [fresh]", lines)
	}
	if c.Offset() != int64(len("fresh\n")) {
		t.Errorf("Offset() = %d after truncation read, want %d", c.Offset(), len("fresh\n"))
	}
}

// TestReadNewLines_Detached verifies that reading without an open handle
// returns ErrDetached.
func TestReadNewLines_Detached(t *testing.T) {
	c := cursor.New(filepath.Join(t.TempDir(), "never-opened.log"))
	if _, err := c.ReadNewLines(); !errors.Is(err, cursor.ErrDetached) {
		t.Errorf("ReadNewLines error = %v, want ErrDetached", err)
	}
}

// ---------------------------------------------------------------------------
// Reopen, reset, close
// ---------------------------------------------------------------------------

// TestReopenFromStart_ReadsFromTop verifies that after ReopenFromStart the
// whole current content counts as new.
func TestReopenFromStart_ReadsFromTop(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)
	defer c.Close()

	appendString(t, path, "one\ntwo\n")
	readLines(t, c)

	if err := c.ReopenFromStart(); err != nil {
		t.Fatalf("ReopenFromStart: %v", err)
	}
	if c.Offset() != 0 {
		t.Fatalf("Offset() = %d after ReopenFromStart, want 0", c.Offset())
	}

	want := []string{"one", "two"}
	if lines := readLines(t, c); !equalLines(lines, want) {
		t.Errorf("ReadNewLines = %q, want %q", lines, want)
	}
}

// TestReopenFromStart_FailureLeavesDetached verifies that a failed reopen
// leaves the cursor cleanly detached rather than holding a stale handle.
func TestReopenFromStart_FailureLeavesDetached(t *testing.T) {
	path := newLogFile(t, "content\n")
	c := openCursor(t, path)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.ReopenFromStart(); err == nil {
		t.Fatal("expected error reopening removed file, got nil")
	}
	if c.Active() {
		t.Error("Active() = true after failed ReopenFromStart, want false")
	}
	if c.Offset() != 0 {
		t.Errorf("Offset() = %d, want 0", c.Offset())
	}
}

// TestReset_DetachesAndZeroesOffset verifies Reset semantics.
func TestReset_DetachesAndZeroesOffset(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)

	appendString(t, path, "data\n")
	readLines(t, c)

	c.Reset()
	if c.Active() {
		t.Error("Active() = true after Reset, want false")
	}
	if c.Offset() != 0 {
		t.Errorf("Offset() = %d after Reset, want 0", c.Offset())
	}
}

// TestClose_Idempotent verifies that Close can be called repeatedly without
// error.
func TestClose_Idempotent(t *testing.T) {
	path := newLogFile(t, "")
	c := openCursor(t, path)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.Active() {
		t.Error("Active() = true after Close, want false")
	}
}
