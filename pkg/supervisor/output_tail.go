package supervisor

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// maxOutputLineBytes bounds a single captured line; longer lines are
// split by the scanner rather than buffered without limit.
const maxOutputLineBytes = 16 * 1024

// OutputTail keeps the most recent lines of a child's merged
// stdout/stderr. Older output is discarded, never buffered: the tail is
// only there to give crash records something to say.
type OutputTail struct {
	maxLines int

	mutex sync.Mutex
	lines []string
}

func NewOutputTail(maxLines int) *OutputTail {
	return &OutputTail{
		maxLines: maxLines,
	}
}

// Drain consumes the reader until EOF, retaining the trailing lines.
// Runs on the unit's dedicated capture goroutine; it returns when the
// child exits and the pipe closes.
func (t *OutputTail) Drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxOutputLineBytes)
	for scanner.Scan() {
		t.Append(scanner.Text())
	}
	if scanner.Err() != nil {
		// A line overflowed the scanner; keep the pipe flowing so the
		// child never blocks on a full buffer.
		io.Copy(io.Discard, r)
	}
}

func (t *OutputTail) Append(line string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.lines = append(t.lines, line)
	if overflow := len(t.lines) - t.maxLines; overflow > 0 {
		t.lines = append(t.lines[:0], t.lines[overflow:]...)
	}
}

func (t *OutputTail) Lines() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

func (t *OutputTail) String() string {
	return strings.Join(t.Lines(), "\n")
}
