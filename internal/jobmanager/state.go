package jobmanager

import (
	"slices"
)

type WorkerStatus int

const (
	// WorkerStatusWaiting indicates the Worker is preparing the job's
	// directories or waiting for a free slot under the concurrency limit.
	WorkerStatusWaiting WorkerStatus = iota

	// WorkerStatusRunning indicates the job's process has been launched.
	WorkerStatusRunning

	// WorkerStatusFinished indicates the job's process exited, was killed, or
	// never started because of an error. It is terminal.
	WorkerStatusFinished
)

// NOTE: This slice needs to be kept in sync with any changes to the
// WorkerStatus values.
var workerStatuses = []string{
	"WAITING",
	"RUNNING",
	"FINISHED",
}

// String implements the Stringer interface for WorkerStatus.
func (s WorkerStatus) String() string {
	if int(s) < 0 || int(s) >= len(workerStatuses) {
		return "UNKNOWN"
	}

	return workerStatuses[s]
}

// State is a snapshot of a Worker's progress. Every field is written together
// under the Worker's lock, so a State is never a mix of two updates.
type State struct {
	Status WorkerStatus

	Iteration    int64
	MaxIteration int64

	// Watched holds the latest value of each watched metric, in the order of
	// the job's watch list.
	Watched []float64

	// Pid is the process group of the running job, or 0 before launch.
	Pid int

	// ExitCode is -1 until the job exits, and for jobs killed by a signal.
	ExitCode int

	// Interrupted is set when the job was stopped by Shutdown.
	Interrupted bool

	// Err records why the job didn't run, e.g. a LaunchError.
	Err error
}

func (s State) clone() State {
	s.Watched = slices.Clone(s.Watched)
	return s
}
