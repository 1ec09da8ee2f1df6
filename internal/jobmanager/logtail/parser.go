package logtail

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	reIteration = regexp.MustCompile(`Iteration (\d+)`)
	reMaxIter   = regexp.MustCompile(`^max_iter: (\d+)`)
	rePrimary   = regexp.MustCompile(
		`Iteration \d+, (\w+) = ([.\d]+(?:e[+-]\d+)*)`,
	)
	reScoped = regexp.MustCompile(
		`(Test|Train) net output #\d+: (\w+) = ([.\d]+(?:e[+-]\d+)*)`,
	)
)

// Progress is the structured view of a training log.
type Progress struct {
	Iteration    int64
	MaxIteration int64

	// Watched holds one value per watched metric, in watch list order.
	Watched []float64
}

// Clone returns a deep copy of p.
func (p Progress) Clone() Progress {
	p.Watched = slices.Clone(p.Watched)
	return p
}

// Parser extracts Progress from log lines. Only metrics named in the watch
// list are kept; a metric's slot in Progress.Watched is its position in the
// watch list. Parser is not safe for concurrent use.
type Parser struct {
	index    map[string]int
	progress Progress
}

// NewParser creates a Parser for the given watch list.
func NewParser(watch []string) *Parser {
	index := make(map[string]int, len(watch))
	for i, name := range watch {
		if _, exists := index[name]; !exists {
			index[name] = i
		}
	}

	return &Parser{
		index:    index,
		progress: Progress{Watched: make([]float64, len(watch))},
	}
}

// ParseLine applies every pattern to line. A line that matches nothing, or
// whose number can't be parsed, leaves the Progress unchanged.
func (p *Parser) ParseLine(line string) {
	line = strings.TrimRight(line, "\r\n")

	if m := reIteration.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.progress.Iteration = max(p.progress.Iteration, v)
		}
	}

	if m := reMaxIter.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			p.progress.MaxIteration = v
		}
	}

	if m := rePrimary.FindStringSubmatch(line); m != nil {
		p.setWatched(m[1], m[2])
	}

	if m := reScoped.FindStringSubmatch(line); m != nil {
		p.setWatched(strings.ToLower(m[1])+"_"+m[2], m[3])
	}
}

// Progress returns a copy of the Progress parsed so far.
func (p *Parser) Progress() Progress {
	return p.progress.Clone()
}

func (p *Parser) setWatched(name, value string) {
	i, ok := p.index[name]
	if !ok {
		return
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}

	p.progress.Watched[i] = v
}
