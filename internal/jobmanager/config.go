package jobmanager

import (
	"time"

	"github.com/nixpig/trainworker/internal/jobmanager/cgroups"
)

// Config configures a Manager and the Workers it creates.
type Config struct {
	// DefaultRoot is the output root for batches that don't set root_path.
	DefaultRoot string

	// Limit is the maximum number of jobs running at once. Zero or less means
	// no limit.
	Limit int

	// TrainerRoot is the working directory for every job. Relative template,
	// trainer and snapshot paths are resolved against it.
	TrainerRoot string

	// TrainerBin is the training binary, relative to TrainerRoot unless
	// absolute.
	TrainerBin string

	// GPU is passed to the trainer as --gpu.
	GPU int

	// LaunchPrefix is prepended to every launch command, e.g. a cluster
	// resource wrapper.
	LaunchPrefix string

	// PollInterval bounds how long a Worker waits for new log output before
	// checking on its process again.
	PollInterval time.Duration

	// FileWaitInterval is how often a Worker checks for its log file to
	// appear.
	FileWaitInterval time.Duration

	// KillGrace is how long a killed job has to exit after SIGTERM before its
	// process group is sent SIGKILL.
	KillGrace time.Duration

	// CgroupRoot, if set, is where each job gets its own cgroup with Limits.
	CgroupRoot string
	Limits     cgroups.ResourceLimits
}

// DefaultConfig returns a Config with default intervals and no concurrency
// limit.
func DefaultConfig() Config {
	return Config{
		TrainerRoot:      ".",
		TrainerBin:       "build/tools/caffe",
		PollInterval:     5 * time.Second,
		FileWaitInterval: time.Second,
		KillGrace:        10 * time.Second,
	}
}
