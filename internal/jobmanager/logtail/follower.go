package logtail

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Follower streams a log file from the beginning. It implements
// io.ReadCloser. Read blocks waiting for new output until done is closed and
// everything written before that has been read.
type Follower struct {
	path     string
	interval time.Duration
	done     <-chan struct{}

	file    *os.File
	watcher *fsnotify.Watcher
	changes chan struct{}

	closed    atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewFollower creates a Follower for the file at path. The file doesn't have
// to exist yet. done should be closed once nothing more will be written.
// interval bounds how long Read waits between checks when file change
// notifications aren't available.
func NewFollower(
	path string,
	done <-chan struct{},
	interval time.Duration,
) *Follower {
	return &Follower{
		path:     path,
		interval: interval,
		done:     done,
		changes:  make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
}

// Read reads the next chunk of the log into p. When there's no more data left
// and there's no more coming, it returns io.EOF.
func (f *Follower) Read(p []byte) (int, error) {
	for {
		if f.closed.Load() {
			return 0, io.EOF
		}

		finished := f.isDone()

		n, err := f.read(p)
		if n > 0 {
			return n, nil
		}

		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}

		if finished {
			return 0, io.EOF
		}

		timer := time.NewTimer(f.interval)

		select {
		case <-f.closing:
		case <-f.done:
		case <-f.changes:
		case <-timer.C:
		}

		timer.Stop()
	}
}

func (f *Follower) read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed.Load() {
		return 0, io.EOF
	}

	if f.file == nil {
		file, err := os.Open(f.path)
		if errors.Is(err, os.ErrNotExist) {
			return 0, io.EOF
		}

		if err != nil {
			return 0, err
		}

		f.file = file
		f.watch()
	}

	return f.file.Read(p)
}

// watch must be called with f.mu held.
func (f *Follower) watch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}

	if err := w.Add(f.path); err != nil {
		w.Close()
		return
	}

	f.watcher = w

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}

				select {
				case f.changes <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close is used by a client to stop following. Any Read blocked waiting for
// new output returns io.EOF.
func (f *Follower) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.closing)
	})

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher != nil {
		f.watcher.Close()
		f.watcher = nil
	}

	if f.file != nil {
		err := f.file.Close()
		f.file = nil

		return err
	}

	return nil
}

func (f *Follower) isDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
