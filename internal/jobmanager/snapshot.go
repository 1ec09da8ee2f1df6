package jobmanager

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

const snapshotPattern = "*.solverstate"

var reSnapshotIter = regexp.MustCompile(`_iter_(\d+)\.solverstate$`)

// LatestSnapshot returns the path of the most recently written snapshot in
// dir, or an empty string if there is none.
//
// Snapshots are ordered by inode change time. Files with the same change time
// are ordered by the iteration number in their name.
func LatestSnapshot(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, snapshotPattern))
	if err != nil {
		return "", fmt.Errorf("find snapshots: %w", err)
	}

	var (
		latest     string
		latestTime int64
		latestIter int64
	)

	for _, m := range matches {
		var st unix.Stat_t
		if err := unix.Stat(m, &st); err != nil {
			// Removed since the glob.
			continue
		}

		ctime := st.Ctim.Nano()
		iter := snapshotIteration(m)

		if latest == "" ||
			ctime > latestTime ||
			(ctime == latestTime && iter > latestIter) {
			latest, latestTime, latestIter = m, ctime, iter
		}
	}

	return latest, nil
}

func snapshotIteration(path string) int64 {
	m := reSnapshotIter.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return -1
	}

	iter, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return -1
	}

	return iter
}
