package logtail_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/nixpig/trainworker/internal/jobmanager/logtail"
)

func appendToFile(t *testing.T, path, data string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("write log file: %v", err)
	}
}

func testProgress(t *testing.T, got, want logtail.Progress) {
	t.Helper()

	if got.Iteration != want.Iteration {
		t.Errorf(
			"expected iteration: got '%d', want '%d'",
			got.Iteration,
			want.Iteration,
		)
	}

	if got.MaxIteration != want.MaxIteration {
		t.Errorf(
			"expected max iteration: got '%d', want '%d'",
			got.MaxIteration,
			want.MaxIteration,
		)
	}

	if !slices.Equal(got.Watched, want.Watched) {
		t.Errorf(
			"expected watched values: got '%v', want '%v'",
			got.Watched,
			want.Watched,
		)
	}
}

func TestParser(t *testing.T) {
	t.Parallel()

	scenarios := map[string]struct {
		watch []string
		lines []string
		want  logtail.Progress
	}{
		"Mixed training output": {
			watch: []string{"loss", "test_accuracy"},
			lines: []string{
				"max_iter: 1000",
				"Iteration 200, loss = 0.5",
				"Test net output #0: accuracy = 0.8",
			},
			want: logtail.Progress{
				Iteration:    200,
				MaxIteration: 1000,
				Watched:      []float64{0.5, 0.8},
			},
		},
		"Unwatched metrics are dropped": {
			watch: []string{"train_loss"},
			lines: []string{
				"Iteration 10, lr = 0.01",
				"Test net output #0: accuracy = 0.8",
				"Train net output #0: loss = 2.5e-01",
			},
			want: logtail.Progress{
				Iteration: 10,
				Watched:   []float64{0.25},
			},
		},
		"Max iter only at start of line": {
			watch: nil,
			lines: []string{
				"  max_iter: 50",
				"solver says max_iter: 60",
				"max_iter: 50000",
			},
			want: logtail.Progress{MaxIteration: 50000, Watched: []float64{}},
		},
		"Unparseable numbers are skipped": {
			watch: []string{"loss"},
			lines: []string{
				"Iteration 1500, loss = 0.023",
				"Iteration 1510, loss = 1.2.3",
				"Iteration 99999999999999999999999",
			},
			want: logtail.Progress{
				Iteration: 1510,
				Watched:   []float64{0.023},
			},
		},
		"Iteration never goes backwards": {
			watch: nil,
			lines: []string{"Iteration 300", "Iteration 100"},
			want:  logtail.Progress{Iteration: 300, Watched: []float64{}},
		},
	}

	for scenario, config := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			p := logtail.NewParser(config.watch)
			for _, line := range config.lines {
				p.ParseLine(line)
			}

			testProgress(t, p.Progress(), config.want)
		})
	}
}

func TestTailer(t *testing.T) {
	t.Parallel()

	t.Run("Test partial lines are held back", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "log.txt")
		appendToFile(t, path, "")

		tailer, err := logtail.NewTailer(path)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		defer tailer.Close()

		lines, err := tailer.ReadLines(false)
		if err != nil || len(lines) != 0 {
			t.Errorf("expected no lines: got '%v' ('%v')", lines, err)
		}

		appendToFile(t, path, "Iteration 1\nIterat")

		lines, err = tailer.ReadLines(false)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if !slices.Equal(lines, []string{"Iteration 1"}) {
			t.Errorf("expected complete line only: got '%v'", lines)
		}

		offset := tailer.Offset()

		lines, _ = tailer.ReadLines(false)
		if len(lines) != 0 || tailer.Offset() != offset {
			t.Errorf(
				"expected no progress on partial line: got '%v' at '%d'",
				lines,
				tailer.Offset(),
			)
		}

		appendToFile(t, path, "ion 2\nIteration 3\n")

		lines, _ = tailer.ReadLines(false)
		if !slices.Equal(lines, []string{"Iteration 2", "Iteration 3"}) {
			t.Errorf("expected joined line: got '%v'", lines)
		}

		appendToFile(t, path, "no newline")

		lines, _ = tailer.ReadLines(true)
		if !slices.Equal(lines, []string{"no newline"}) {
			t.Errorf("expected flushed partial line: got '%v'", lines)
		}
	})

	t.Run("Test change notification", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "log.txt")
		appendToFile(t, path, "")

		tailer, err := logtail.NewTailer(path)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		defer tailer.Close()

		appendToFile(t, path, "Iteration 5\n")

		select {
		case <-tailer.Changes():
		case <-time.After(5 * time.Second):
			t.Errorf("expected change notification")
		}
	})

	t.Run("Test missing file", func(t *testing.T) {
		t.Parallel()

		if _, err := logtail.NewTailer(
			filepath.Join(t.TempDir(), "missing.txt"),
		); err == nil {
			t.Errorf("expected to receive error")
		}
	})
}

func TestWaitForFile(t *testing.T) {
	t.Parallel()

	t.Run("Test file appears", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "log.txt")

		go func() {
			time.Sleep(50 * time.Millisecond)
			appendToFile(t, path, "")
		}()

		if err := logtail.WaitForFile(
			t.Context(),
			path,
			10*time.Millisecond,
			nil,
		); err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}
	})

	t.Run("Test cancelled", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := logtail.WaitForFile(
			ctx,
			filepath.Join(t.TempDir(), "log.txt"),
			time.Hour,
			nil,
		)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled: got '%v'", err)
		}
	})

	t.Run("Test stopped", func(t *testing.T) {
		t.Parallel()

		stop := make(chan struct{})
		close(stop)

		err := logtail.WaitForFile(
			t.Context(),
			filepath.Join(t.TempDir(), "log.txt"),
			time.Hour,
			stop,
		)
		if !errors.Is(err, logtail.ErrStopped) {
			t.Errorf("expected ErrStopped: got '%v'", err)
		}
	})
}

func TestFollower(t *testing.T) {
	t.Parallel()

	t.Run("Test follow until done", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "log.txt")
		done := make(chan struct{})

		f := logtail.NewFollower(path, done, 10*time.Millisecond)
		defer f.Close()

		go func() {
			time.Sleep(20 * time.Millisecond)
			appendToFile(t, path, "Iteration 1\n")
			time.Sleep(20 * time.Millisecond)
			appendToFile(t, path, "Iteration 2\n")
			close(done)
		}()

		got, err := io.ReadAll(f)
		if err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		want := "Iteration 1\nIteration 2\n"
		if string(got) != want {
			t.Errorf("expected output: got '%s', want '%s'", got, want)
		}
	})

	t.Run("Test close unblocks read", func(t *testing.T) {
		t.Parallel()

		f := logtail.NewFollower(
			filepath.Join(t.TempDir(), "log.txt"),
			make(chan struct{}),
			time.Hour,
		)

		go func() {
			time.Sleep(20 * time.Millisecond)
			f.Close()
		}()

		n, err := f.Read(make([]byte, 16))
		if n != 0 || err != io.EOF {
			t.Errorf("expected EOF after close: got '%d', '%v'", n, err)
		}
	})
}
