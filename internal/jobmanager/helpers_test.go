package jobmanager_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nixpig/trainworker/internal/experiment"
	"github.com/nixpig/trainworker/internal/jobmanager"
)

const (
	testModelTemplate = "name: \"$name\"\n"

	testSolverTemplate = `net: "$net"
base_lr: $base_lr
max_iter: 1000
snapshot_prefix: "$root/$path/snapshots/model"
`

	// testTrainer stands in for the training binary. It echoes how it was
	// invoked and a little training output, then exits.
	testTrainer = `#!/bin/sh
echo "trainer $*"
echo "max_iter: 1000"
echo "Iteration 100, loss = 0.25"
`
)

type testEnv struct {
	root        string
	trainerRoot string
	cfg         jobmanager.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		root:        t.TempDir(),
		trainerRoot: t.TempDir(),
	}

	files := map[string]struct {
		content string
		mode    os.FileMode
	}{
		"templates/model.prototxt":  {testModelTemplate, 0644},
		"templates/solver.prototxt": {testSolverTemplate, 0644},
		"build/tools/caffe":         {testTrainer, 0755},
	}

	for name, f := range files {
		path := filepath.Join(env.trainerRoot, name)

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("make dir for %s: %v", name, err)
		}

		if err := os.WriteFile(path, []byte(f.content), f.mode); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	env.cfg = jobmanager.DefaultConfig()
	env.cfg.DefaultRoot = env.root
	env.cfg.TrainerRoot = env.trainerRoot
	env.cfg.PollInterval = 50 * time.Millisecond
	env.cfg.FileWaitInterval = 10 * time.Millisecond
	env.cfg.KillGrace = 2 * time.Second

	return env
}

func (env *testEnv) descriptor(
	t *testing.T,
	path string,
	command string,
	lr float64,
	watch ...string,
) *experiment.Descriptor {
	t.Helper()

	d := &experiment.Descriptor{
		RootPath: env.root,
		Path:     path,
		Command:  command,
		Watch:    watch,
		Model: experiment.Template{
			Template: filepath.Join(env.trainerRoot, "templates/model.prototxt"),
			Values:   map[string]any{"name": "net"},
		},
		Solver: experiment.Template{
			Template: filepath.Join(env.trainerRoot, "templates/solver.prototxt"),
			Values:   map[string]any{"base_lr": lr},
		},
	}

	hash, err := experiment.Hash(d.Model, d.Solver)
	if err != nil {
		t.Fatalf("hash descriptor: %v", err)
	}

	d.Hash = hash

	return d
}

func (env *testEnv) readFile(t *testing.T, parts ...string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(append([]string{env.root}, parts...)...))
	if err != nil {
		t.Fatalf("read %v: %v", parts, err)
	}

	return string(data)
}

func joinWithin(t *testing.T, w *jobmanager.Worker, timeout time.Duration) {
	t.Helper()

	select {
	case <-w.Done():
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for worker to stop")
	}
}

func waitForStatus(
	t *testing.T,
	w *jobmanager.Worker,
	want jobmanager.WorkerStatus,
) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	for w.State().Status != want {
		if time.Now().After(deadline) {
			t.Fatalf(
				"timed out waiting for status: got '%s', want '%s'",
				w.State().Status,
				want,
			)
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func startTestWorker(
	t *testing.T,
	env *testEnv,
	d *experiment.Descriptor,
) *jobmanager.Worker {
	t.Helper()

	w := jobmanager.NewWorker("test-worker", d, &env.cfg, nil, discardLogger())

	if err := w.Start(); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	t.Cleanup(func() {
		w.Shutdown()
		w.Join()
	})

	return w
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
