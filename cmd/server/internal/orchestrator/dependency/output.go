package dependency

import (
	"bytes"
	"sync"
)

// lineWriter forwards complete lines to a callback and keeps a bounded tail.
type lineWriter struct {
	mu      sync.Mutex
	onLine  func(string)
	partial []byte
	tail    []byte
	limit   int
}

func newLineWriter(onLine func(string), limit int) *lineWriter {
	return &lineWriter{onLine: onLine, limit: limit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tail = append(w.tail, p...)
	if w.limit > 0 && len(w.tail) > w.limit {
		w.tail = w.tail[len(w.tail)-w.limit:]
	}

	if w.onLine == nil {
		return len(p), nil
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexAny(w.partial, "\r\n")
		if i < 0 {
			break
		}
		line := string(w.partial[:i])
		w.partial = w.partial[i+1:]
		if line != "" {
			w.onLine(line)
		}
	}
	return len(p), nil
}

// flush emits a trailing line without newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.onLine != nil && len(w.partial) > 0 {
		w.onLine(string(w.partial))
	}
	w.partial = nil
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.tail)
}
