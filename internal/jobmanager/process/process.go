//go:build linux

// Package process supervises a shell command running as the leader of its own
// process group, so the command and everything it spawns can be signalled
// together.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	shell    = "/bin/sh"
	procRoot = "/proc"

	// groupPollInterval is how often Terminate checks whether the process
	// group has emptied after SIGTERM.
	groupPollInterval = 50 * time.Millisecond
)

// Options configure how a Process is started.
type Options struct {
	// Command is run with /bin/sh -c.
	Command string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// LogPath receives the combined stdout/stderr of the command. The file is
	// created if needed and always appended to.
	LogPath string

	// CgroupFD, if set, places the process in that cgroup at clone time.
	CgroupFD *os.File
}

// Process is a running shell command and its process group.
type Process struct {
	cmd   *exec.Cmd
	pgid  int
	state atomic.Pointer[os.ProcessState]
	done  chan struct{}
}

// Start launches opts.Command in a new process group.
func Start(opts Options) (*Process, error) {
	if opts.Command == "" {
		return nil, errors.New("command cannot be empty")
	}

	cmd := exec.Command(shell, "-c", opts.Command)
	cmd.Dir = opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if opts.CgroupFD != nil {
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = int(opts.CgroupFD.Fd())
	}

	if opts.LogPath != "" {
		logFile, err := os.OpenFile(
			opts.LogPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			0644,
		)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}

		// The child holds its own copy of the descriptor.
		defer logFile.Close()

		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	p := &Process{
		cmd:  cmd,
		pgid: cmd.Process.Pid,
		done: make(chan struct{}),
	}

	go func() {
		// The error is reflected in ProcessState.
		_ = cmd.Wait()

		p.state.Store(cmd.ProcessState)

		close(p.done)
	}()

	return p, nil
}

// Pid returns the process ID of the group leader, which is also the process
// group ID.
func (p *Process) Pid() int {
	return p.pgid
}

// Poll reports the exit code of the group leader without blocking. exited is
// false while it is still running. A leader killed by a signal reports -1.
func (p *Process) Poll() (exitCode int, exited bool) {
	ps := p.state.Load()
	if ps == nil {
		return -1, false
	}

	return ps.ExitCode(), true
}

// Done returns a channel that is closed once the group leader has exited and
// been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Kill sends SIGTERM to the whole process group.
func (p *Process) Kill() error {
	return p.signal(unix.SIGTERM)
}

// Terminate sends SIGTERM to the process group and waits up to grace for every
// member to exit before sending SIGKILL. It returns once the group leader has
// been reaped.
func (p *Process) Terminate(grace time.Duration) error {
	if err := p.Kill(); err != nil {
		return err
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	for p.GroupAlive() {
		select {
		case <-deadline.C:
			if err := p.signal(unix.SIGKILL); err != nil {
				return err
			}

			<-p.done

			return nil
		case <-ticker.C:
		}
	}

	<-p.done

	return nil
}

// GroupAlive reports whether any process in the group is still running.
// Zombies waiting to be reaped by someone else don't count.
func (p *Process) GroupAlive() bool {
	if unix.Kill(-p.pgid, 0) != nil {
		return false
	}

	alive, err := groupHasLiveMember(p.pgid)
	if err != nil {
		return true
	}

	return alive
}

func groupHasLiveMember(pgid int) (bool, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}

		stat, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "stat"))
		if err != nil {
			// Exited between ReadDir and here.
			continue
		}

		state, group, ok := parseStat(string(stat))
		if ok && group == pgid && state != "Z" && state != "X" {
			return true, nil
		}
	}

	return false, nil
}

// parseStat pulls the state and process group out of /proc/<pid>/stat. The
// command name is wrapped in parentheses and may itself contain spaces or
// parentheses, so fields are counted from the last ')'.
func parseStat(stat string) (state string, pgid int, ok bool) {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 {
		return "", 0, false
	}

	// state ppid pgrp ...
	fields := strings.Fields(stat[i+1:])
	if len(fields) < 3 {
		return "", 0, false
	}

	pgid, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, false
	}

	return fields[0], pgid, true
}

func (p *Process) signal(sig unix.Signal) error {
	if err := unix.Kill(-p.pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", p.pgid, err)
	}

	return nil
}
