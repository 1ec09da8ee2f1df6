package experiment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
)

// ReplaceMode controls what a Worker does with an output directory left
// behind by an earlier run of the same job.
type ReplaceMode int

const (
	// ReplaceFresh clears the job's directories and starts from scratch.
	ReplaceFresh ReplaceMode = iota

	// ReplaceReuse keeps an existing output directory, including snapshots, so
	// an interrupted job continues from its latest snapshot.
	ReplaceReuse

	// ReplaceReuseConfigs behaves like ReplaceReuse but regenerates the config
	// files from their templates first.
	ReplaceReuseConfigs
)

var replaceModes = []string{
	"fresh",
	"reuse",
	"reuse-configs",
}

func (m ReplaceMode) String() string {
	if int(m) < 0 || int(m) >= len(replaceModes) {
		return fmt.Sprintf("ReplaceMode(%d)", int(m))
	}

	return replaceModes[m]
}

// ParseReplaceMode returns the ReplaceMode named by s.
func ParseReplaceMode(s string) (ReplaceMode, error) {
	i := slices.Index(replaceModes, s)
	if i < 0 {
		return ReplaceFresh, fmt.Errorf(
			"unknown replace mode '%s' (want one of %v)",
			s,
			replaceModes,
		)
	}

	return ReplaceMode(i), nil
}

// Template is a config file template and the values substituted into it.
type Template struct {
	Template string         `json:"template"`
	Values   map[string]any `json:"values"`
}

// Descriptor is the resolved configuration for a single training job. It is
// not modified after LoadBatch returns it.
type Descriptor struct {
	Hash        string
	RootPath    string
	Path        string
	Description string
	Command     string
	Weights     string
	Watch       []string
	ReplaceMode ReplaceMode
	NoRun       bool
	Model       Template
	Solver      Template
}

// OutputPath returns the absolute directory the job writes into.
func (d *Descriptor) OutputPath() string {
	return filepath.Join(d.RootPath, d.Path)
}

// Hash returns the content hash of a job's model and solver configuration.
// encoding/json writes map keys in sorted order, so the result doesn't depend
// on the order keys appeared in the batch file.
func Hash(model, solver Template) (string, error) {
	b, err := json.Marshal(struct {
		Model  Template `json:"model"`
		Solver Template `json:"solver"`
	}{model, solver})
	if err != nil {
		return "", fmt.Errorf("encode model and solver: %w", err)
	}

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:]), nil
}
