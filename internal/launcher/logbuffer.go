package launcher

import (
	"bytes"
	"io"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultLogLines is the number of lines a LogBuffer keeps by default.
const DefaultLogLines = 1000

// Line is one captured line of child output.
type Line struct {
	Time   time.Time
	Source string
	Text   string
}

// LogBuffer keeps the most recent lines written by child processes. Older
// lines are dropped once capacity is reached.
type LogBuffer struct {
	mu    sync.RWMutex
	clock clock.PassiveClock
	lines []Line
	next  int
	full  bool
}

// NewLogBuffer returns a buffer holding up to capacity lines. A capacity
// below one selects DefaultLogLines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity < 1 {
		capacity = DefaultLogLines
	}
	return &LogBuffer{
		clock: clock.RealClock{},
		lines: make([]Line, capacity),
	}
}

// Capacity returns the maximum number of lines kept.
func (b *LogBuffer) Capacity() int {
	return len(b.lines)
}

// Len returns the number of lines currently kept.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Append records one line from source.
func (b *LogBuffer) Append(source, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = Line{Time: b.clock.Now(), Source: source, Text: text}
	b.next++
	if b.next == len(b.lines) {
		b.next = 0
		b.full = true
	}
}

// Lines returns every kept line, oldest first.
func (b *LogBuffer) Lines() []Line {
	return b.Tail(-1)
}

// Tail returns the last n lines, oldest first. A negative n returns all.
func (b *LogBuffer) Tail(n int) []Line {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.lines)
	}
	if n < 0 || n > size {
		n = size
	}

	out := make([]Line, 0, n)
	start := b.next - n
	if start < 0 {
		start += len(b.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, b.lines[(start+i)%len(b.lines)])
	}
	return out
}

// Writer returns a writer that splits its input into lines attributed to
// source. Close flushes a trailing partial line.
func (b *LogBuffer) Writer(source string) io.WriteCloser {
	return &lineWriter{buffer: b, source: source}
}

type lineWriter struct {
	mu      sync.Mutex
	buffer  *LogBuffer
	source  string
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.buffer.Append(w.source, string(bytes.TrimRight(w.pending[:i], "\r")))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.buffer.Append(w.source, string(w.pending))
		w.pending = nil
	}
	return nil
}
