// Package dirwatch turns fsnotify notifications on the watched file's parent
// directory into a typed event stream for the one file logs2eca cares about.
//
// The watch is registered on the directory, not the file: a directory watch
// stays valid while the file is deleted, recreated, or renamed away, which is
// exactly the lifecycle a rotated log goes through. Events for other names in
// the directory are filtered out.
package dirwatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrDirectoryGone is delivered on Errors when the watched directory itself
// is removed or renamed. Nothing is left to watch at that point; callers
// should treat it as fatal.
var ErrDirectoryGone = errors.New("dirwatch: watched directory removed")

// EventType classifies a filesystem event affecting the watched file.
type EventType uint32

const (
	// Modify indicates data was written to the file.
	Modify EventType = iota + 1
	// Create indicates the file appeared in the directory.
	Create
	// Delete indicates the file was removed.
	Delete
	// MovedAway indicates the file was renamed out of the directory entry
	// the watcher tracks.
	MovedAway
)

// String returns the lowercase name of the event type for log output.
func (t EventType) String() string {
	switch t {
	case Modify:
		return "modify"
	case Create:
		return "create"
	case Delete:
		return "delete"
	case MovedAway:
		return "moved_away"
	default:
		return "unknown"
	}
}

// Event is a single classified filesystem event for the watched file.
type Event struct {
	Type EventType
	Path string
}

// DirWatch owns the fsnotify watcher on the parent directory and the
// goroutine that filters and classifies its raw events.
type DirWatch struct {
	path string // absolute path of the watched file
	dir  string // parent directory registered with fsnotify
	fw   *fsnotify.Watcher

	events chan Event
	errs   chan error
	done   chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a DirWatch for the file at path and registers the watch on the
// file's parent directory. The directory must exist; a missing directory is a
// startup failure, unlike the file itself which may appear later.
func New(path string) (*DirWatch, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("dirwatch: resolve %q: %w", path, err)
	}
	dir := filepath.Dir(abs)

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dirwatch: stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dirwatch: %q is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dirwatch: create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("dirwatch: watch %q: %w", dir, err)
	}

	w := &DirWatch{
		path:   abs,
		dir:    dir,
		fw:     fw,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.forward()
	return w, nil
}

// Path returns the absolute path of the watched file.
func (w *DirWatch) Path() string {
	return w.path
}

// Events returns the stream of classified events for the watched file. The
// channel is closed when the watch shuts down or hits a terminal error.
// Delivery blocks rather than drops, so consumers that pause (for example
// while an action command runs) simply delay later events.
func (w *DirWatch) Events() <-chan Event {
	return w.events
}

// Errors returns the error stream. A terminal error (ErrDirectoryGone) is
// delivered here right before Events is closed.
func (w *DirWatch) Errors() <-chan error {
	return w.errs
}

// Close stops the forwarding goroutine and releases the fsnotify watcher. It
// is idempotent.
func (w *DirWatch) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}

// forward filters, classifies, and re-delivers raw fsnotify events until the
// watch is closed or a terminal condition is seen. It owns the events channel
// and closes it on exit.
func (w *DirWatch) forward() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if terminal := w.handle(ev); terminal {
				return
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.sendErr(err)
		}
	}
}

// handle classifies a single raw event. It reports whether the event was
// terminal for the whole watch.
func (w *DirWatch) handle(ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)

	// Losing the directory itself ends the watch: the kernel-side watch is
	// gone and no event for the file can ever arrive again.
	if name == w.dir {
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.sendErr(ErrDirectoryGone)
			return true
		}
		return false
	}

	if name != w.path {
		return false
	}

	var typ EventType
	switch {
	case ev.Op&fsnotify.Create != 0:
		typ = Create
	case ev.Op&fsnotify.Write != 0:
		typ = Modify
	case ev.Op&fsnotify.Remove != 0:
		typ = Delete
	case ev.Op&fsnotify.Rename != 0:
		typ = MovedAway
	default:
		// Chmod and anything else the kernel reports is irrelevant to the
		// read position.
		return false
	}

	select {
	case w.events <- Event{Type: typ, Path: w.path}:
	case <-w.done:
	}
	return false
}

// sendErr delivers err without blocking. The channel holds one error; if one
// is already pending the new one is dropped, which is fine because the first
// error is the one that matters.
func (w *DirWatch) sendErr(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
