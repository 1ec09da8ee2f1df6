package jobmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nixpig/trainworker/internal/experiment"
)

const trainScript = `#!/usr/bin/env sh

TOOLS=./build/tools

$$TOOLS/caffe train \
    --solver=${solver_path} \
    --gpu 0
`

const plotScript = `#!/usr/bin/env sh

python ./tools/extra/parse_log.py \
    ${logs_path}/log.txt \
    ${logs_path}

python ./tools/extra/plot_log.py \
    ${logs_path}/log.txt.$$1 -f $$2 -r $$3
`

// writeScripts writes helper scripts for re-running and plotting a job by
// hand.
func (l *layout) writeScripts() error {
	scripts := []struct {
		name string
		tmpl string
	}{
		{"train.sh", trainScript},
		{"plot.sh", plotScript},
	}

	values := map[string]any{
		"solver_path": l.solver,
		"logs_path":   l.logs,
	}

	for _, s := range scripts {
		out, err := experiment.Expand(s.tmpl, values)
		if err != nil {
			return fmt.Errorf("expand %s: %w", s.name, err)
		}

		path := filepath.Join(l.scripts, s.name)

		if err := os.WriteFile(path, []byte(out), 0744); err != nil {
			return fmt.Errorf("write %s: %w", s.name, err)
		}

		// WriteFile's mode is subject to umask.
		if err := os.Chmod(path, 0744); err != nil {
			return fmt.Errorf("chmod %s: %w", s.name, err)
		}
	}

	return nil
}
