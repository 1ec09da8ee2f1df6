// Package jobmanager runs batches of training jobs on a single host.
//
// A Worker owns one job: it prepares the job's output directory, launches the
// trainer as a supervised process group (resuming from the newest snapshot
// when there is one) and follows the job's log to report progress.
//
// A Manager holds the Workers, skips jobs it is already tracking, bounds how
// many of them may run at once and relays kill and status requests.
package jobmanager
