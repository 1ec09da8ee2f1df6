package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nixpig/trainworker/internal/jobmanager"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTrainerRoot creates a trainer root with model and solver templates.
func newTrainerRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	files := map[string]string{
		"templates/model.prototxt":  "name: \"net\"\n",
		"templates/solver.prototxt": "net: \"$net\"\nbase_lr: $base_lr\n",
	}

	for name, content := range files {
		path := filepath.Join(root, name)

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("make dir for %s: %v", name, err)
		}

		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	return root
}

func testManagerConfig(t *testing.T) jobmanager.Config {
	t.Helper()

	cfg := jobmanager.DefaultConfig()
	cfg.DefaultRoot = t.TempDir()
	cfg.TrainerRoot = newTrainerRoot(t)
	cfg.PollInterval = 50 * time.Millisecond
	cfg.FileWaitInterval = 10 * time.Millisecond
	cfg.KillGrace = 2 * time.Second

	return cfg
}

// writeBatch writes a batch file with one experiment per command.
func writeBatch(t *testing.T, commands ...string) string {
	t.Helper()

	var b strings.Builder

	b.WriteString(`defaults:
  model:
    template: templates/model.prototxt
  solver:
    template: templates/solver.prototxt
  watch: [loss]
experiments:
`)

	for i, command := range commands {
		fmt.Fprintf(&b, "  - path: job-%d\n", i)
		fmt.Fprintf(&b, "    description: job %d\n", i)
		fmt.Fprintf(&b, "    command: '%s'\n", strings.ReplaceAll(command, "'", "''"))
		fmt.Fprintf(&b, "    solver:\n      values:\n        base_lr: %d\n", i+1)
	}

	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("write batch file: %v", err)
	}

	return path
}
