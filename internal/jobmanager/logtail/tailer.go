package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrStopped is returned by WaitForFile when its stop channel closes before
// the file appears.
var ErrStopped = errors.New("stopped waiting for log file")

// WaitForFile blocks until path exists, checking every interval. It returns
// early with the context's cause if ctx is done, or ErrStopped if stop closes.
func WaitForFile(
	ctx context.Context,
	path string,
	interval time.Duration,
	stop <-chan struct{},
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat log file: %w", err)
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-stop:
			return ErrStopped
		case <-ticker.C:
		}
	}
}

// Tailer reads complete lines appended to a file since the last read. A
// trailing line without a newline is left for the next read, so a line that is
// still being written is never split.
type Tailer struct {
	file   *os.File
	offset int64

	watcher *fsnotify.Watcher
	changes chan struct{}
}

// NewTailer opens path for tailing from the start of the file.
//
// Changes to the file are watched with fsnotify where possible. If a watch
// can't be set up, Changes never fires and callers fall back to their own
// poll interval.
func NewTailer(path string) (*Tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	t := &Tailer{
		file:    f,
		changes: make(chan struct{}, 1),
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(path); err != nil {
			w.Close()
		} else {
			t.watcher = w
			go t.watch()
		}
	}

	return t, nil
}

func (t *Tailer) watch() {
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			select {
			case t.changes <- struct{}{}:
			default:
			}
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Changes returns a channel that receives when the file may have grown. Sends
// are coalesced; one receive can stand for many writes.
func (t *Tailer) Changes() <-chan struct{} {
	return t.changes
}

// Offset returns the byte offset just past the last line returned.
func (t *Tailer) Offset() int64 {
	return t.offset
}

// ReadLines returns the complete lines appended since the previous call. If
// flush is true, a trailing partial line is returned too. When nothing new
// has been appended the read position is left where it was.
func (t *Tailer) ReadLines(flush bool) ([]string, error) {
	info, err := t.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	// Truncated underneath us, start again from the top.
	if info.Size() < t.offset {
		t.offset = 0
	}

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}

	data, err := io.ReadAll(t.file)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	end := bytes.LastIndexByte(data, '\n') + 1
	if flush {
		end = len(data)
	}

	if end == 0 {
		return nil, nil
	}

	t.offset += int64(end)

	return strings.Split(strings.TrimSuffix(string(data[:end]), "\n"), "\n"), nil
}

// Close stops watching and closes the file.
func (t *Tailer) Close() error {
	if t.watcher != nil {
		t.watcher.Close()
	}

	return t.file.Close()
}
