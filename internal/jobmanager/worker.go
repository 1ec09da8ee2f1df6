package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nixpig/trainworker/internal/experiment"
	"github.com/nixpig/trainworker/internal/jobmanager/cgroups"
	"github.com/nixpig/trainworker/internal/jobmanager/logtail"
	"github.com/nixpig/trainworker/internal/jobmanager/process"
	"golang.org/x/sync/semaphore"
)

// Worker runs a single training job in the background. It provides management
// of the job's lifecycle and safe concurrent access to its progress.
type Worker struct {
	id         string
	experiment *experiment.Descriptor
	cfg        *Config
	limiter    *semaphore.Weighted
	logger     *slog.Logger

	mu    sync.Mutex
	state State

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelCauseFunc
	done    chan struct{}
}

// NewWorker creates a Worker for the job described by d. If limiter is not
// nil, the Worker holds one unit of it while its job is running.
func NewWorker(
	id string,
	d *experiment.Descriptor,
	cfg *Config,
	limiter *semaphore.Weighted,
	logger *slog.Logger,
) *Worker {
	ctx, cancel := context.WithCancelCause(context.Background())

	return &Worker{
		id:         id,
		experiment: d,
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger.With("worker", id, "path", d.Path),
		state: State{
			Status:   WorkerStatusWaiting,
			Watched:  make([]float64, len(d.Watch)),
			ExitCode: -1,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start runs the Worker in the background and returns immediately.
func (w *Worker) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go w.run()

	return nil
}

// Shutdown asks the Worker to stop. It doesn't wait; the job is killed from
// the Worker's own goroutine. Calling it more than once has no further effect.
func (w *Worker) Shutdown() {
	w.cancel(errShutdown)
}

// Join blocks until the Worker has stopped. It must not be called on a Worker
// that was never started.
func (w *Worker) Join() {
	<-w.done
}

// Done returns a channel that is closed when the Worker has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// ID returns the ID of the Worker.
func (w *Worker) ID() string {
	return w.id
}

// Experiment returns the Descriptor of the Worker's job.
func (w *Worker) Experiment() *experiment.Descriptor {
	return w.experiment
}

// State returns a consistent snapshot of the Worker's state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state.clone()
}

// LogPath returns the path of the job's log file.
func (w *Worker) LogPath() string {
	return newLayout(w.experiment).log
}

func (w *Worker) run() {
	defer close(w.done)

	l, err := prepare(w.experiment, w.cfg)
	if err != nil {
		w.logger.Error("prepare job directories", "err", err)
		w.finish(-1, fmt.Errorf("prepare job directories: %w", err))
		return
	}

	if w.experiment.NoRun {
		w.logger.Info("prepared job without running")
		return
	}

	if w.limiter != nil {
		if err := w.limiter.Acquire(w.ctx, 1); err != nil {
			w.logger.Info("shut down while waiting for a free slot")
			w.finishInterrupted(-1)
			return
		}

		// Deferred first, so it runs after the state is FINISHED.
		defer w.limiter.Release(1)
	}

	if w.ctx.Err() != nil {
		w.finishInterrupted(-1)
		return
	}

	proc, cg, err := w.launch(l)
	if err != nil {
		w.logger.Error("launch job", "err", err)
		w.finish(-1, &LaunchError{Err: err})
		return
	}

	if cg != nil {
		defer func() {
			if err := cg.Destroy(); err != nil {
				w.logger.Warn("destroy cgroup", "err", err)
			}
		}()
	}

	w.mu.Lock()
	w.state.Status = WorkerStatusRunning
	w.state.Pid = proc.Pid()
	w.mu.Unlock()

	w.logger.Info("job running", "pid", proc.Pid())

	exitCode, interrupted, err := w.follow(l, proc)

	if interrupted {
		w.finishInterrupted(exitCode)
	} else {
		w.finish(exitCode, err)
	}

	w.logger.Info(
		"job finished",
		"exit_code", exitCode,
		"interrupted", interrupted,
	)
}

func (w *Worker) launch(
	l *layout,
) (*process.Process, *cgroups.Cgroup, error) {
	var snapshot string

	if w.experiment.Command == "" {
		latest, err := LatestSnapshot(l.snapshots)
		if err != nil {
			w.logger.Warn("find latest snapshot", "err", err)
		}

		snapshot = latest
	}

	if snapshot != "" {
		w.logger.Info("resuming from snapshot", "snapshot", snapshot)
	}

	command := trainingCommand(w.experiment, l, w.cfg, snapshot)

	if err := os.MkdirAll(l.logs, 0755); err != nil {
		return nil, nil, fmt.Errorf("make log dir: %w", err)
	}

	if err := os.WriteFile(
		l.trainingString(),
		[]byte(command),
		0644,
	); err != nil {
		return nil, nil, fmt.Errorf("write training string: %w", err)
	}

	var cg *cgroups.Cgroup

	if w.cfg.CgroupRoot != "" {
		var err error

		cg, err = cgroups.Create(w.cfg.CgroupRoot, w.id, &w.cfg.Limits)
		if err != nil {
			return nil, nil, fmt.Errorf("create cgroup: %w", err)
		}
	}

	opts := process.Options{
		Command: command,
		Dir:     w.cfg.TrainerRoot,
		LogPath: l.log,
	}

	if cg != nil {
		opts.CgroupFD = cg.FD()
	}

	proc, err := process.Start(opts)
	if err != nil {
		if cg != nil {
			if err := cg.Destroy(); err != nil {
				w.logger.Warn("destroy cgroup", "err", err)
			}
		}

		return nil, nil, err
	}

	if cg != nil && cg.FD() == nil {
		if err := cg.Join(proc.Pid()); err != nil {
			w.logger.Warn("join cgroup", "err", err)
		}
	}

	return proc, cg, nil
}

// follow tails the job's log and publishes progress until the job exits or
// the Worker is shut down. It returns the exit code, whether the job was
// killed because of a shutdown, and the error that stopped the log from being
// followed, if any.
func (w *Worker) follow(
	l *layout,
	proc *process.Process,
) (int, bool, error) {
	if err := logtail.WaitForFile(
		w.ctx,
		l.log,
		w.cfg.FileWaitInterval,
		proc.Done(),
	); err != nil {
		if w.ctx.Err() != nil {
			return w.kill(proc), true, nil
		}

		if !errors.Is(err, logtail.ErrStopped) {
			w.logger.Error("wait for log file", "err", err)
			return w.kill(proc), false, fmt.Errorf("wait for log file: %w", err)
		}
	}

	tailer, err := logtail.NewTailer(l.log)
	if err != nil {
		w.logger.Error("tail log file", "err", err)
		return w.kill(proc), false, fmt.Errorf("tail log file: %w", err)
	}
	defer tailer.Close()

	parser := logtail.NewParser(w.experiment.Watch)

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		if w.ctx.Err() != nil {
			return w.kill(proc), true, nil
		}

		n := w.consume(tailer, parser, false)

		if exitCode, exited := proc.Poll(); exited {
			w.consume(tailer, parser, true)
			return exitCode, false, nil
		}

		if n > 0 {
			continue
		}

		timer.Reset(w.cfg.PollInterval)

		select {
		case <-w.ctx.Done():
		case <-proc.Done():
		case <-tailer.Changes():
		case <-timer.C:
		}
	}
}

// consume parses whatever has been appended to the log and publishes the
// result. It returns how many lines were read.
func (w *Worker) consume(
	tailer *logtail.Tailer,
	parser *logtail.Parser,
	flush bool,
) int {
	lines, err := tailer.ReadLines(flush)
	if err != nil {
		w.logger.Warn("read log file", "err", err)
	}

	for _, line := range lines {
		parser.ParseLine(line)
	}

	progress := parser.Progress()

	w.mu.Lock()
	w.state.Iteration = progress.Iteration
	w.state.MaxIteration = progress.MaxIteration
	w.state.Watched = progress.Watched
	w.mu.Unlock()

	return len(lines)
}

func (w *Worker) kill(proc *process.Process) int {
	if err := proc.Terminate(w.cfg.KillGrace); err != nil {
		w.logger.Warn("terminate job", "err", err)
	}

	exitCode, _ := proc.Poll()

	return exitCode
}

func (w *Worker) finish(exitCode int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state.Status = WorkerStatusFinished
	w.state.ExitCode = exitCode
	w.state.Err = err
}

func (w *Worker) finishInterrupted(exitCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state.Status = WorkerStatusFinished
	w.state.ExitCode = exitCode
	w.state.Interrupted = true
}
