//go:build linux

// Package cgroups creates cgroup v2 groups that confine a single training job
// to a share of the host's CPU, memory and I/O.
package cgroups

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	cpuPeriodMicros = 100000
	procMountinfo   = "/proc/self/mountinfo"
	namePrefix      = "trainworker-"

	// removeTimeout bounds how long Destroy waits for killed processes to
	// leave the cgroup before giving up on removing it.
	removeTimeout = 5 * time.Second
)

// ResourceLimits are applied to every job's cgroup. Zero values mean no
// limit.
type ResourceLimits struct {
	CPUMaxPercent  int64
	MemoryMaxBytes int64
	IOMaxBPS       int64
}

// IsZero reports whether no limit is set.
func (l *ResourceLimits) IsZero() bool {
	return l == nil || *l == ResourceLimits{}
}

// Cgroup is a cgroup v2 directory created for one job.
type Cgroup struct {
	name string
	path string
	real bool
	fd   *os.File
}

// Create makes a cgroup named after name under root and applies limits.
//
// When root is a mounted cgroup2 filesystem the cgroup directory is held open
// so a process can be cloned straight into it (see FD). Any other root is
// treated as a plain directory, which is what the tests use.
func Create(root, name string, limits *ResourceLimits) (*Cgroup, error) {
	cg := &Cgroup{
		name: name,
		path: filepath.Join(root, namePrefix+name),
		real: isCgroup2(root),
	}

	if err := os.MkdirAll(cg.path, 0755); err != nil {
		return nil, fmt.Errorf("make cgroup dir: %w", err)
	}

	if !limits.IsZero() {
		if err := cg.applyLimits(limits); err != nil {
			cg.remove()
			return nil, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}

	if cg.real {
		fd, err := os.Open(cg.path)
		if err != nil {
			cg.remove()
			return nil, fmt.Errorf("open cgroup dir: %w", err)
		}

		cg.fd = fd
	}

	return cg, nil
}

func (c *Cgroup) applyLimits(limits *ResourceLimits) error {
	if limits.CPUMaxPercent > 0 {
		if err := c.setCPULimit(limits.CPUMaxPercent); err != nil {
			return fmt.Errorf("set CPU max limit: %w", err)
		}
	}

	if limits.MemoryMaxBytes > 0 {
		if err := c.setMemoryLimit(limits.MemoryMaxBytes); err != nil {
			return fmt.Errorf("set memory max limit: %w", err)
		}
	}

	if limits.IOMaxBPS > 0 {
		if err := c.setIOLimit(limits.IOMaxBPS); err != nil {
			return fmt.Errorf("set I/O max limit: %w", err)
		}
	}

	return nil
}

func (c *Cgroup) setCPULimit(percent int64) error {
	quota := (percent * cpuPeriodMicros) / 100
	value := fmt.Sprintf("%d %d", quota, cpuPeriodMicros)

	return c.write("cpu.max", value)
}

func (c *Cgroup) setMemoryLimit(bytes int64) error {
	return c.write("memory.max", strconv.FormatInt(bytes, 10))
}

func (c *Cgroup) setIOLimit(bps int64) error {
	deviceID, err := detectRootDevice()
	if err != nil {
		return fmt.Errorf("detect root device: %w", err)
	}

	return c.write("io.max", fmt.Sprintf("%s rbps=%d wbps=%d", deviceID, bps, bps))
}

// Join moves an already running process into the cgroup.
func (c *Cgroup) Join(pid int) error {
	if err := c.write("cgroup.procs", strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("add process to cgroup: %w", err)
	}

	return nil
}

// Kill kills every process in the cgroup.
func (c *Cgroup) Kill() error {
	if !c.real {
		return nil
	}

	return c.write("cgroup.kill", "1")
}

// Destroy kills anything left in the cgroup and removes it.
func (c *Cgroup) Destroy() error {
	// Ignore error and just go ahead and remove.
	c.close()

	if err := c.Kill(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kill cgroup: %w", err)
	}

	if err := c.remove(); err != nil {
		return fmt.Errorf("remove cgroup: %w", err)
	}

	return nil
}

// remove deletes the cgroup directory. A real cgroup can only be removed with
// rmdir once it is empty of processes, which can lag a kill slightly.
func (c *Cgroup) remove() error {
	if !c.real {
		return os.RemoveAll(c.path)
	}

	deadline := time.Now().Add(removeTimeout)

	for {
		err := unix.Rmdir(c.path)
		if err == nil || errors.Is(err, unix.ENOENT) {
			return nil
		}

		if !errors.Is(err, unix.EBUSY) || time.Now().After(deadline) {
			return err
		}

		time.Sleep(50 * time.Millisecond)
	}
}

func (c *Cgroup) close() error {
	if c.fd != nil {
		err := c.fd.Close()

		c.fd = nil

		if err != nil {
			return fmt.Errorf("close cgroup fd: %w", err)
		}
	}

	return nil
}

func (c *Cgroup) write(file, value string) error {
	return os.WriteFile(filepath.Join(c.path, file), []byte(value), 0644)
}

// FD returns the open cgroup directory for use with clone-into-cgroup, or nil
// if the cgroup isn't on a cgroup2 filesystem.
func (c *Cgroup) FD() *os.File {
	return c.fd
}

func (c *Cgroup) Name() string {
	return c.name
}

func (c *Cgroup) Path() string {
	return c.path
}

func detectRootDevice() (string, error) {
	mountinfo, err := os.ReadFile(procMountinfo)
	if err != nil {
		return "", fmt.Errorf("read mountinfo: %w", err)
	}

	for line := range strings.SplitSeq(string(mountinfo), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		if fields[4] == "/" {
			return fields[2], nil
		}
	}

	return "", fmt.Errorf("detect root device in %s", procMountinfo)
}

func isCgroup2(root string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return false
	}

	return st.Type == unix.CGROUP2_SUPER_MAGIC
}

// ValidateRoot checks that root looks like a cgroup v2 hierarchy.
func ValidateRoot(root string) error {
	controllersPath := filepath.Join(root, "cgroup.controllers")
	if _, err := os.Stat(controllersPath); err != nil {
		return fmt.Errorf("cgroup root not valid at %s: %w", root, err)
	}

	return nil
}
