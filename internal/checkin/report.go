package checkin

import "strings"

// Report is the ordered, human-readable outcome of one pass. It is built
// once, handed to the notifier once, and discarded.
type Report struct {
	lines []string
}

func (r *Report) Add(line string) {
	r.lines = append(r.lines, line)
}

func (r *Report) Lines() []string {
	return r.lines
}

func (r *Report) Empty() bool {
	return len(r.lines) == 0
}

func (r *Report) String() string {
	return strings.Join(r.lines, "\n")
}
