package experiment

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ErrInvalidBatch is wrapped by every error LoadBatch returns for a batch file
// that can be read but not understood.
var ErrInvalidBatch = errors.New("invalid batch")

// Options are applied to every Descriptor loaded from a batch.
type Options struct {
	// DefaultRoot is used when the batch file doesn't set root_path.
	DefaultRoot string

	// ReplaceMode is used for experiments that don't set replace_mode.
	ReplaceMode ReplaceMode

	NoRun bool
}

type batchFile struct {
	RootPath    string           `yaml:"root_path"`
	Defaults    map[string]any   `yaml:"defaults"`
	Experiments []map[string]any `yaml:"experiments"`
}

// baseDefaults returns the values every experiment starts from before the
// batch defaults and the experiment itself are merged over it.
func baseDefaults() map[string]any {
	return map[string]any{
		"unroll":  "zip",
		"weights": "",
		"model":   map[string]any{"values": map[string]any{}},
		"solver":  map[string]any{"values": map[string]any{}},
		"watch":   []any{},
		"command": nil,
	}
}

// LoadBatch reads the batch file at path and returns one Descriptor per
// unrolled experiment, in declaration order.
func LoadBatch(path string, opts Options) ([]*Descriptor, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	return ParseBatch(content, opts)
}

// ParseBatch is LoadBatch for an in-memory batch file.
func ParseBatch(content []byte, opts Options) ([]*Descriptor, error) {
	var batch batchFile
	if err := yaml.Unmarshal(content, &batch); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", ErrInvalidBatch, err)
	}

	if len(batch.Experiments) == 0 {
		return nil, fmt.Errorf("%w: no experiments", ErrInvalidBatch)
	}

	root := batch.RootPath
	if root == "" {
		root = opts.DefaultRoot
	}

	if root == "" {
		return nil, fmt.Errorf("%w: no root_path and no default root", ErrInvalidBatch)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}

	var descriptors []*Descriptor

	for i, e := range batch.Experiments {
		merged := merge(merge(baseDefaults(), batch.Defaults), e)

		unrolled, err := unroll(merged)
		if err != nil {
			return nil, fmt.Errorf("%w: experiment %d: %w", ErrInvalidBatch, i, err)
		}

		for _, u := range unrolled {
			d, err := newDescriptor(u, root, opts)
			if err != nil {
				return nil, fmt.Errorf("%w: experiment %d: %w", ErrInvalidBatch, i, err)
			}

			descriptors = append(descriptors, d)
		}
	}

	return descriptors, nil
}

func newDescriptor(e map[string]any, root string, opts Options) (*Descriptor, error) {
	d := &Descriptor{
		RootPath:    root,
		ReplaceMode: opts.ReplaceMode,
		NoRun:       opts.NoRun,
	}

	var err error

	if d.Path, err = stringField(e, "path"); err != nil {
		return nil, err
	}

	if d.Path == "" {
		return nil, errors.New("path is required")
	}

	if filepath.IsAbs(d.Path) {
		return nil, fmt.Errorf("path '%s' must be relative", d.Path)
	}

	if d.Description, err = stringField(e, "description"); err != nil {
		return nil, err
	}

	if d.Command, err = stringField(e, "command"); err != nil {
		return nil, err
	}

	if d.Weights, err = stringField(e, "weights"); err != nil {
		return nil, err
	}

	mode, err := stringField(e, "replace_mode")
	if err != nil {
		return nil, err
	}

	if mode != "" {
		if d.ReplaceMode, err = ParseReplaceMode(mode); err != nil {
			return nil, err
		}
	}

	if d.Watch, err = stringList(e, "watch"); err != nil {
		return nil, err
	}

	if d.Model, err = templateField(e, "model"); err != nil {
		return nil, err
	}

	if d.Solver, err = templateField(e, "solver"); err != nil {
		return nil, err
	}

	if d.Hash, err = Hash(d.Model, d.Solver); err != nil {
		return nil, err
	}

	return d, nil
}

func stringField(m map[string]any, key string) (string, error) {
	switch v := m[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
}

func stringList(m map[string]any, key string) ([]string, error) {
	raw, ok := m[key].([]any)
	if !ok && m[key] != nil {
		return nil, fmt.Errorf("%s: expected list, got %T", key, m[key])
	}

	out := make([]string, 0, len(raw))

	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected list of strings, got %T", key, v)
		}

		out = append(out, s)
	}

	return out, nil
}

func templateField(m map[string]any, key string) (Template, error) {
	section, ok := m[key].(map[string]any)
	if !ok {
		return Template{}, fmt.Errorf("%s: expected mapping, got %T", key, m[key])
	}

	tmpl, err := stringField(section, "template")
	if err != nil {
		return Template{}, fmt.Errorf("%s.%w", key, err)
	}

	values, ok := section["values"].(map[string]any)
	if !ok && section["values"] != nil {
		return Template{}, fmt.Errorf(
			"%s.values: expected mapping, got %T",
			key,
			section["values"],
		)
	}

	if values == nil {
		values = map[string]any{}
	}

	return Template{Template: tmpl, Values: values}, nil
}

// sectionValues returns the values mapping of the model or solver section, or
// nil if there isn't one.
func sectionValues(e map[string]any, section string) map[string]any {
	s, ok := e[section].(map[string]any)
	if !ok {
		return nil
	}

	v, _ := s["values"].(map[string]any)

	return v
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
