// Package logtail follows a training job's append-only log file.
//
// A Tailer hands back complete lines as they are appended and a Parser turns
// those lines into structured Progress. A Follower streams the raw log to a
// client from the beginning, blocking for new output until the job is done.
package logtail
