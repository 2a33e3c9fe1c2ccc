package build

import (
	"fmt"
	"strings"
	"sync"
)

// Log accumulates the human-readable build log for one execution. It is
// safe for concurrent use; the installer, type checker, and compile loop
// all append while running in parallel.
type Log struct {
	mu    sync.Mutex
	lines []string
}

// NewLog returns an empty build log.
func NewLog() *Log { return &Log{} }

// Logf appends one formatted line.
func (l *Log) Logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// Lines returns a copy of the accumulated lines.
func (l *Log) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// String renders the log as newline-joined text.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}
