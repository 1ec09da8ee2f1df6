package jobmanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/nixpig/trainworker/internal/experiment"
)

const (
	protosDir      = "protos"
	logsDir        = "logs"
	scriptsDir     = "scripts"
	modelFile      = "train_val.prototxt"
	solverFile     = "solver.prototxt"
	logFile        = "log.txt"
	trainingString = "training_string.txt"
)

var reSnapshotPrefix = regexp.MustCompile(`snapshot_prefix:\s*"([^"]+)"`)

// layout is where a job's files live on disk.
type layout struct {
	path      string
	protos    string
	model     string
	solver    string
	logs      string
	log       string
	scripts   string
	snapshots string
}

func newLayout(d *experiment.Descriptor) *layout {
	path := d.OutputPath()
	protos := filepath.Join(path, protosDir)
	logs := filepath.Join(path, logsDir)

	return &layout{
		path:    path,
		protos:  protos,
		model:   filepath.Join(protos, modelFile),
		solver:  filepath.Join(protos, solverFile),
		logs:    logs,
		log:     filepath.Join(logs, logFile),
		scripts: filepath.Join(path, scriptsDir),
	}
}

func (l *layout) trainingString() string {
	return filepath.Join(l.path, trainingString)
}

// prepare gets a job's output directory ready to launch from.
//
// With ReplaceReuse or ReplaceReuseConfigs an existing output directory is
// kept as is, snapshots included, so the job picks up where it left off;
// ReplaceReuseConfigs regenerates the config files first. Anything else starts
// over: config, log and script directories are recreated and the snapshot
// directory is emptied.
func prepare(d *experiment.Descriptor, cfg *Config) (*layout, error) {
	l := newLayout(d)

	reuse := d.ReplaceMode == experiment.ReplaceReuse ||
		d.ReplaceMode == experiment.ReplaceReuseConfigs

	if d.ReplaceMode == experiment.ReplaceReuseConfigs && exists(l.protos) {
		if err := l.writeProtos(d, cfg); err != nil {
			return nil, err
		}
	}

	if reuse && exists(l.path) {
		snapshots, err := snapshotDir(l.solver, cfg.TrainerRoot)
		if err != nil {
			return nil, err
		}

		l.snapshots = snapshots

		return l, nil
	}

	for _, dir := range []string{l.protos, l.logs, l.scripts} {
		if err := clearDir(dir); err != nil {
			return nil, err
		}
	}

	if err := l.writeProtos(d, cfg); err != nil {
		return nil, err
	}

	if err := l.writeScripts(); err != nil {
		return nil, err
	}

	snapshots, err := snapshotDir(l.solver, cfg.TrainerRoot)
	if err != nil {
		return nil, err
	}

	if snapshots != "" {
		if err := clearDir(snapshots); err != nil {
			return nil, err
		}
	}

	l.snapshots = snapshots

	return l, nil
}

func (l *layout) writeProtos(d *experiment.Descriptor, cfg *Config) error {
	solverValues := make(map[string]any, len(d.Solver.Values)+3)
	for k, v := range d.Solver.Values {
		solverValues[k] = v
	}

	solverValues["net"] = l.model
	solverValues["root"] = d.RootPath
	solverValues["path"] = d.Path

	if err := renderTemplate(
		resolve(cfg.TrainerRoot, d.Model.Template),
		l.model,
		d.Model.Values,
	); err != nil {
		return fmt.Errorf("render model: %w", err)
	}

	if err := renderTemplate(
		resolve(cfg.TrainerRoot, d.Solver.Template),
		l.solver,
		solverValues,
	); err != nil {
		return fmt.Errorf("render solver: %w", err)
	}

	return nil
}

func renderTemplate(src, dst string, values map[string]any) error {
	if src == "" {
		return errors.New("no template set")
	}

	tmpl, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	out, err := experiment.Expand(string(tmpl), values)
	if err != nil {
		return fmt.Errorf("expand %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("make config dir: %w", err)
	}

	return os.WriteFile(dst, []byte(out), 0644)
}

// snapshotDir reads the snapshot directory from a solver config. It returns
// an empty path if the solver is missing or doesn't set snapshot_prefix.
func snapshotDir(solverPath, trainerRoot string) (string, error) {
	solver, err := os.ReadFile(solverPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("read solver: %w", err)
	}

	m := reSnapshotPrefix.FindSubmatch(solver)
	if m == nil {
		return "", nil
	}

	return filepath.Dir(resolve(trainerRoot, string(m[1]))), nil
}

// clearDir removes dir and everything in it and creates it again, empty.
func clearDir(dir string) error {
	clean := filepath.Clean(dir)
	if clean == "/" || clean == "." {
		return fmt.Errorf("refusing to clear %s", dir)
	}

	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}

	if err := os.MkdirAll(clean, 0755); err != nil {
		return fmt.Errorf("make %s: %w", dir, err)
	}

	return nil
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(root, path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
