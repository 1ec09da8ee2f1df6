package jobmanager

import (
	"fmt"
	"strings"

	"github.com/nixpig/trainworker/internal/experiment"
)

// trainingCommand builds the shell command that runs a job. A custom command
// wins; otherwise the trainer is resumed from snapshot if there is one, or
// started fresh, optionally from pre-trained weights.
func trainingCommand(
	d *experiment.Descriptor,
	l *layout,
	cfg *Config,
	snapshot string,
) string {
	var parts []string

	if cfg.LaunchPrefix != "" {
		parts = append(parts, cfg.LaunchPrefix)
	}

	if d.Command != "" {
		return strings.Join(append(parts, d.Command), " ")
	}

	parts = append(
		parts,
		shellQuote(resolve(cfg.TrainerRoot, cfg.TrainerBin)),
		"train",
		"--solver="+shellQuote(l.solver),
	)

	switch {
	case snapshot != "":
		parts = append(parts, "--snapshot="+shellQuote(snapshot))
	case d.Weights != "":
		parts = append(parts, "--weights="+shellQuote(d.Weights))
	}

	parts = append(parts, fmt.Sprintf("--gpu=%d", cfg.GPU))

	return strings.Join(parts, " ")
}

// shellQuote single quotes s if it contains anything the shell would
// interpret.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' ||
			r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' ||
			strings.ContainsRune("/._-=:+,@%", r))
	}) < 0 {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
