package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nixpig/trainworker/internal/jobmanager"
	"github.com/nixpig/trainworker/internal/jobmanager/cgroups"
	"github.com/nixpig/trainworker/internal/tlsconfig"
	"github.com/spf13/pflag"
)

const addrFile = "addr"

type config struct {
	host string
	port string

	root        string
	limit       int
	trainerRoot string
	trainerBin  string
	gpu         int

	launchPrefix     string
	pollInterval     time.Duration
	fileWaitInterval time.Duration
	killGrace        time.Duration

	cgroupRoot     string
	jobCPUPercent  int64
	jobMemoryBytes int64
	jobIOBPS       int64

	httpAddr string
	stateDir string

	certPath   string
	keyPath    string
	caCertPath string

	debug bool
}

func (c *config) bindFlags(fs *pflag.FlagSet) {
	defaults := jobmanager.DefaultConfig()

	fs.StringVar(&c.host, "host", "localhost", "gRPC server host to bind")
	fs.StringVar(&c.port, "port", "8443", "gRPC server port (0 picks a free port)")

	fs.StringVar(&c.root, "root", "", "Default output root for batches without root_path")
	fs.IntVar(&c.limit, "limit", 0, "Maximum jobs running at once (0 or less is unlimited)")

	fs.StringVar(
		&c.trainerRoot,
		"trainer-root",
		defaults.TrainerRoot,
		"Working directory for jobs; relative templates and snapshots resolve against it",
	)

	fs.StringVar(
		&c.trainerBin,
		"trainer-bin",
		defaults.TrainerBin,
		"Training binary, relative to --trainer-root unless absolute",
	)

	fs.IntVar(&c.gpu, "gpu", defaults.GPU, "GPU passed to the trainer")

	fs.StringVar(
		&c.launchPrefix,
		"launch-prefix",
		"",
		"Prepended to every launch command, e.g. 'srun --gres=gpu:1'",
	)

	fs.DurationVar(
		&c.pollInterval,
		"poll-interval",
		defaults.PollInterval,
		"Longest wait for new log output before checking on a job",
	)

	fs.DurationVar(
		&c.fileWaitInterval,
		"file-wait-interval",
		defaults.FileWaitInterval,
		"How often to check for a job's log file to appear",
	)

	fs.DurationVar(
		&c.killGrace,
		"kill-grace",
		defaults.KillGrace,
		"How long a killed job has after SIGTERM before SIGKILL",
	)

	fs.StringVar(
		&c.cgroupRoot,
		"cgroup-root",
		"",
		"cgroup v2 directory to create per-job cgroups in (empty disables)",
	)

	fs.Int64Var(&c.jobCPUPercent, "job-cpu-percent", 0, "Per-job CPU limit as a percentage")
	fs.Int64Var(&c.jobMemoryBytes, "job-memory-bytes", 0, "Per-job memory limit in bytes")
	fs.Int64Var(&c.jobIOBPS, "job-io-bps", 0, "Per-job I/O limit in bytes per second")

	fs.StringVar(
		&c.httpAddr,
		"http-addr",
		"",
		"Address for the read-only HTTP status endpoint (empty disables)",
	)

	fs.StringVar(
		&c.stateDir,
		"state-dir",
		defaultStateDir(),
		"Directory the server writes its address file to",
	)

	fs.StringVar(&c.certPath, "cert-path", "", "Path to server TLS certificate")
	fs.StringVar(&c.keyPath, "key-path", "", "Path to server TLS private key")
	fs.StringVar(&c.caCertPath, "ca-cert-path", "", "Path to CA certificate for mTLS")

	fs.BoolVar(&c.debug, "debug", false, "Enable debug logs")
}

func (c *config) validate() error {
	port, err := strconv.Atoi(c.port)
	if err != nil {
		return fmt.Errorf("port string to number: %w", err)
	}

	if port < 0 || port > 65535 {
		return errors.New("port must be in valid range")
	}

	if c.trainerRoot == "" {
		return errors.New("trainer-root cannot be empty")
	}

	if c.trainerBin == "" {
		return errors.New("trainer-bin cannot be empty")
	}

	if c.gpu < 0 {
		return errors.New("gpu cannot be negative")
	}

	for flag, d := range map[string]time.Duration{
		"poll-interval":      c.pollInterval,
		"file-wait-interval": c.fileWaitInterval,
		"kill-grace":         c.killGrace,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", flag)
		}
	}

	if c.jobCPUPercent < 0 || c.jobCPUPercent > 100 {
		return errors.New("job-cpu-percent must be between 0 and 100")
	}

	if c.jobMemoryBytes < 0 || c.jobIOBPS < 0 {
		return errors.New("job limits cannot be negative")
	}

	if c.cgroupRoot == "" &&
		(c.jobCPUPercent > 0 || c.jobMemoryBytes > 0 || c.jobIOBPS > 0) {
		return errors.New("job limits need cgroup-root")
	}

	if c.stateDir == "" {
		return errors.New("state-dir cannot be empty")
	}

	return c.tlsConfig().Validate()
}

func (c *config) tlsConfig() *tlsconfig.Config {
	return &tlsconfig.Config{
		CertPath:   c.certPath,
		KeyPath:    c.keyPath,
		CACertPath: c.caCertPath,
		Server:     true,
	}
}

func (c *config) managerConfig() jobmanager.Config {
	return jobmanager.Config{
		DefaultRoot:      c.root,
		Limit:            c.limit,
		TrainerRoot:      c.trainerRoot,
		TrainerBin:       c.trainerBin,
		GPU:              c.gpu,
		LaunchPrefix:     c.launchPrefix,
		PollInterval:     c.pollInterval,
		FileWaitInterval: c.fileWaitInterval,
		KillGrace:        c.killGrace,
		CgroupRoot:       c.cgroupRoot,
		Limits: cgroups.ResourceLimits{
			CPUMaxPercent:  c.jobCPUPercent,
			MemoryMaxBytes: c.jobMemoryBytes,
			IOMaxBPS:       c.jobIOBPS,
		},
	}
}

func (c *config) addrPath() string {
	return filepath.Join(c.stateDir, addrFile)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automator"
	}

	return filepath.Join(home, ".automator")
}
