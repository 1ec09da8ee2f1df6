//go:build e2e

package e2e_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type testEnv struct {
	binDir     string
	certDir    string
	stateDir   string
	serverCmd  *exec.Cmd
	cliPath    string
	serverPath string
}

const (
	modelTemplate  = "name: \"net\"\n"
	solverTemplate = "net: \"$net\"\nbase_lr: $base_lr\n"
)

// NOTE: Relative paths are used to determine the source locations to build
// the CLI and server binaries. Running this test from anywhere that breaks
// those relative paths will not work.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		binDir:   t.TempDir(),
		certDir:  t.TempDir(),
		stateDir: t.TempDir(),
	}

	env.serverPath = filepath.Join(env.binDir, "automatord")

	buildServer := exec.Command(
		"go",
		"build",
		"-o",
		env.serverPath,
		"../cmd/automatord",
	)

	if output, err := buildServer.CombinedOutput(); err != nil {
		t.Fatalf(
			"failed to build server binary: '%v' (output: '%s')",
			err,
			output,
		)
	}

	env.cliPath = filepath.Join(env.binDir, "automatorctl")

	buildCLI := exec.Command("go", "build", "-o", env.cliPath, "../cmd/automatorctl")

	if output, err := buildCLI.CombinedOutput(); err != nil {
		t.Fatalf("failed to build CLI binary: '%v' (output: '%s')", err, output)
	}

	if output, err := exec.Command(
		env.serverPath,
		"certs",
		"--out", env.certDir,
	).CombinedOutput(); err != nil {
		t.Fatalf("failed to generate certs: '%v' (output: '%s')", err, output)
	}

	trainerRoot := t.TempDir()

	for name, content := range map[string]string{
		"model.prototxt":  modelTemplate,
		"solver.prototxt": solverTemplate,
	} {
		if err := os.WriteFile(
			filepath.Join(trainerRoot, name),
			[]byte(content),
			0644,
		); err != nil {
			t.Fatalf("write template '%s': '%v'", name, err)
		}
	}

	env.serverCmd = exec.Command(
		env.serverPath,
		"--port", "0",
		"--root", t.TempDir(),
		"--trainer-root", trainerRoot,
		"--state-dir", env.stateDir,
		"--poll-interval", "100ms",
		"--cert-path", filepath.Join(env.certDir, "server.crt"),
		"--key-path", filepath.Join(env.certDir, "server.key"),
		"--ca-cert-path", filepath.Join(env.certDir, "ca.crt"),
	)

	if err := env.serverCmd.Start(); err != nil {
		t.Fatalf("failed to exec server command: '%v'", err)
	}

	t.Cleanup(func() {
		if env.serverCmd.Process != nil {
			env.serverCmd.Process.Kill()
			env.serverCmd.Wait()
		}
	})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("failed to start server")
		case <-ticker.C:
			if _, _, err := env.runCLI(t, "operator", "status"); err == nil {
				return env
			}
		}
	}
}

func (env *testEnv) runCLI(
	t *testing.T,
	client string,
	args ...string,
) (string, string, error) {
	t.Helper()

	cliArgs := []string{
		"--state-dir", env.stateDir,
		"--cert-path", filepath.Join(env.certDir, "client-"+client+".crt"),
		"--key-path", filepath.Join(env.certDir, "client-"+client+".key"),
		"--ca-cert-path", filepath.Join(env.certDir, "ca.crt"),
	}

	cliArgs = append(cliArgs, args...)

	cmd := exec.Command(env.cliPath, cliArgs...)

	var stdout strings.Builder
	var stderr strings.Builder

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func writeBatch(t *testing.T) string {
	t.Helper()

	batch := `defaults:
  model:
    template: model.prototxt
  solver:
    template: solver.prototxt
  watch: [loss]
experiments:
  - path: smoke
    command: 'echo "max_iter: 10"; echo "Iteration 5, loss = 0.5"; sleep 30'
    solver:
      values:
        base_lr: 0.1
`

	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(batch), 0644); err != nil {
		t.Fatalf("write batch: '%v'", err)
	}

	return path
}

func TestBasicE2E(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("Test job lifecycle", func(t *testing.T) {
		submitStdout, _, err := env.runCLI(t, "operator", "submit", writeBatch(t))
		if err != nil {
			t.Fatalf("expected submit not to return error: got '%v'", err)
		}

		jobID := strings.TrimSpace(submitStdout)
		if _, err := uuid.Parse(jobID); err != nil {
			t.Errorf("expected submit to return UUID: got '%v'", err)
		}

		var statusStdout string

		deadline := time.Now().Add(5 * time.Second)

		for !strings.Contains(statusStdout, "5 / 10") {
			if time.Now().After(deadline) {
				t.Fatalf("expected job progress: got '%s'", statusStdout)
			}

			time.Sleep(100 * time.Millisecond)

			statusStdout, _, err = env.runCLI(t, "viewer", "status")
			if err != nil {
				t.Fatalf("expected status not to return error: got '%v'", err)
			}
		}

		if !strings.Contains(statusStdout, "RUNNING") {
			t.Errorf("expected job state: got '%s', want 'RUNNING'", statusStdout)
		}

		_, killStderr, err := env.runCLI(t, "viewer", "kill", "0")
		if err == nil {
			t.Error("expected viewer kill to return error")
		}

		if !strings.Contains(killStderr, "permission denied") {
			t.Errorf("expected error message: got '%s'", killStderr)
		}

		if _, _, err := env.runCLI(t, "operator", "terminate"); err != nil {
			t.Errorf("expected terminate not to return error: got '%v'", err)
		}

		done := make(chan error, 1)
		go func() { done <- env.serverCmd.Wait() }()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected server to exit cleanly: got '%v'", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("expected server to exit after terminate")
		}
	})
}
