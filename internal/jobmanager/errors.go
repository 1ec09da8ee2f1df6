package jobmanager

import (
	"errors"
	"fmt"
)

var (
	// ErrTerminated is returned by a Manager that has been terminated.
	ErrTerminated = errors.New("manager terminated")

	// ErrAlreadyStarted is returned when starting a Worker a second time.
	ErrAlreadyStarted = errors.New("worker already started")

	// errShutdown is the cancellation cause for a Worker asked to stop.
	errShutdown = errors.New("worker shut down")
)

// ConfigError is returned by Submit when the batch can't be read or doesn't
// describe valid jobs. No Workers are created.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("batch %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IndexError is returned when a Worker index is outside the Manager's current
// list of Workers.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("worker index %d out of range [0, %d)", e.Index, e.Len)
}

// LaunchError is recorded in a Worker's State when its job fails to start.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch job: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
