package build

import (
	"bytes"
	"strings"
	"sync"
)

// tailBuffer keeps the last max complete lines written to it, plus any
// trailing partial line.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial bytes.Buffer
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 400
	}
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			t.partial.Write(p)
			break
		}
		t.partial.Write(p[:i])
		t.push(strings.TrimRight(t.partial.String(), "\r"))
		t.partial.Reset()
		p = p[i+1:]
	}
	return n, nil
}

// Line appends a whole line, flushing any partial one first.
func (t *tailBuffer) Line(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushPartial()
	t.push(s)
}

func (t *tailBuffer) push(line string) {
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.max; over > 0 {
		t.lines = append(t.lines[:0], t.lines[over:]...)
	}
}

func (t *tailBuffer) flushPartial() {
	if t.partial.Len() > 0 {
		t.push(t.partial.String())
		t.partial.Reset()
	}
}

// String joins the retained lines with newlines.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushPartial()
	return strings.Join(t.lines, "\n")
}
