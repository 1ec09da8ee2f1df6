package jobmanager

import (
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/nixpig/trainworker/internal/experiment"
	"github.com/nixpig/trainworker/internal/jobmanager/cgroups"
	"github.com/nixpig/trainworker/internal/jobmanager/logtail"
	"golang.org/x/sync/semaphore"
)

// WorkerInfo is a Worker's place in the Manager, its job and its state.
type WorkerInfo struct {
	Index      int
	ID         string
	Experiment *experiment.Descriptor
	State      State
}

// Manager is responsible for creating Workers and tracking them until they
// finish.
//
// Workers are addressed by their index in the Manager's list of live Workers.
// Finished Workers are dropped from the list whenever it is read, so an index
// is only meaningful until the next call.
type Manager struct {
	cfg     Config
	limiter *semaphore.Weighted
	logger  *slog.Logger

	workers []*Worker
	mu      sync.Mutex

	terminated    chan struct{}
	terminateOnce sync.Once
}

// NewManager creates a Manager ready to run Workers.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.CgroupRoot != "" {
		if err := cgroups.ValidateRoot(cfg.CgroupRoot); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		terminated: make(chan struct{}),
	}

	if cfg.Limit > 0 {
		m.limiter = semaphore.NewWeighted(int64(cfg.Limit))
		logger.Info("concurrent job limit set", "limit", cfg.Limit)
	}

	return m, nil
}

func NewManagerWithDefaults() (*Manager, error) {
	return NewManager(DefaultConfig(), slog.Default())
}

// Submit loads the batch file at path and starts a Worker for every job that
// isn't already being tracked. It returns the IDs of the new Workers.
//
// A batch that can't be read or parsed returns a ConfigError and starts
// nothing.
func (m *Manager) Submit(
	path string,
	mode experiment.ReplaceMode,
	noRun bool,
) ([]string, error) {
	descriptors, err := experiment.LoadBatch(path, experiment.Options{
		DefaultRoot: m.cfg.DefaultRoot,
		ReplaceMode: mode,
		NoRun:       noRun,
	})
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	return m.SubmitDescriptors(descriptors)
}

// SubmitDescriptors starts a Worker for every descriptor whose hash doesn't
// match a Worker the Manager was tracking when the call began. Descriptors in
// the same call aren't checked against each other.
func (m *Manager) SubmitDescriptors(
	descriptors []*experiment.Descriptor,
) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isTerminated() {
		return nil, ErrTerminated
	}

	m.cleanup()

	tracked := make(map[string]bool, len(m.workers))
	for _, w := range m.workers {
		tracked[w.experiment.Hash] = true
	}

	var ids []string

	for _, d := range descriptors {
		if tracked[d.Hash] {
			m.logger.Debug("skipping tracked job", "path", d.Path, "hash", d.Hash)
			continue
		}

		w := NewWorker(uuid.NewString(), d, &m.cfg, m.limiter, m.logger)

		// Can't fail on a new Worker.
		_ = w.Start()

		m.workers = append(m.workers, w)
		ids = append(ids, w.ID())

		m.logger.Info("job submitted", "worker", w.ID(), "path", d.Path)
	}

	return ids, nil
}

// Kill stops the Worker at index and waits for it to finish. It returns an
// IndexError if there's no Worker at index.
func (m *Manager) Kill(index int) error {
	w, err := m.worker(index)
	if err != nil {
		return err
	}

	w.Shutdown()
	w.Join()

	m.mu.Lock()
	m.cleanup()
	m.mu.Unlock()

	return nil
}

// KillAll stops every Worker and waits for them all to finish.
func (m *Manager) KillAll() {
	m.mu.Lock()
	workers := slices.Clone(m.workers)
	m.mu.Unlock()

	for _, w := range workers {
		w.Shutdown()
	}

	for _, w := range workers {
		w.Join()
	}

	m.mu.Lock()
	m.cleanup()
	m.mu.Unlock()
}

// Terminate stops every Worker and marks the Manager as terminated. Further
// submissions return ErrTerminated.
func (m *Manager) Terminate() {
	m.terminateOnce.Do(func() {
		m.mu.Lock()
		close(m.terminated)
		m.mu.Unlock()
	})

	m.KillAll()
}

// Terminated returns a channel that is closed once Terminate has been called.
func (m *Manager) Terminated() <-chan struct{} {
	return m.terminated
}

// Status returns the live Workers in index order.
func (m *Manager) Status() []WorkerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanup()

	infos := make([]WorkerInfo, len(m.workers))
	for i, w := range m.workers {
		infos[i] = WorkerInfo{
			Index:      i,
			ID:         w.ID(),
			Experiment: w.Experiment(),
			State:      w.State(),
		}
	}

	return infos
}

// StreamLog returns an io.ReadCloser of the log of the Worker at index.
//
// Read returns the log from the start and blocks waiting for new output until
// the Worker has stopped.
func (m *Manager) StreamLog(index int) (io.ReadCloser, error) {
	w, err := m.worker(index)
	if err != nil {
		return nil, err
	}

	return logtail.NewFollower(w.LogPath(), w.Done(), m.cfg.PollInterval), nil
}

func (m *Manager) worker(index int) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanup()

	if index < 0 || index >= len(m.workers) {
		return nil, &IndexError{Index: index, Len: len(m.workers)}
	}

	return m.workers[index], nil
}

// cleanup drops Workers that have stopped. It must be called with m.mu held.
func (m *Manager) cleanup() {
	m.workers = slices.DeleteFunc(m.workers, func(w *Worker) bool {
		select {
		case <-w.Done():
			return true
		default:
			return false
		}
	})
}

func (m *Manager) isTerminated() bool {
	select {
	case <-m.terminated:
		return true
	default:
		return false
	}
}
