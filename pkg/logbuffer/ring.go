// Package logbuffer provides the bounded line history shown by the terminal
// client and replayed by the log hub to new subscribers.
package logbuffer

import "sync"

// Default capacities.
const (
	// DefaultClientLines is the number of lines the terminal client keeps.
	DefaultClientLines = 300

	// DefaultHubLines is the history replayed to new stream subscribers.
	DefaultHubLines = 600
)

// Ring is a bounded FIFO of lines. Appending beyond capacity evicts the
// oldest line. It is safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

// New creates a ring holding at most capacity lines. A non-positive
// capacity uses DefaultClientLines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultClientLines
	}
	return &Ring{lines: make([]string, capacity)}
}

// Append adds lines in order.
func (r *Ring) Append(lines ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range lines {
		idx := (r.start + r.count) % len(r.lines)
		r.lines[idx] = line
		if r.count < len(r.lines) {
			r.count++
		} else {
			r.start = (r.start + 1) % len(r.lines)
		}
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

// Tail returns up to n of the newest lines, oldest first.
func (r *Ring) Tail(n int) []string {
	lines := r.Lines()
	if n < 0 || n >= len(lines) {
		return lines
	}
	return lines[len(lines)-n:]
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the capacity.
func (r *Ring) Cap() int {
	return len(r.lines)
}

// Reset discards all lines.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.lines)
	r.start = 0
	r.count = 0
}
