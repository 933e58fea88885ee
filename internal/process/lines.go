package process

import (
	"bytes"
	"io"
	"strings"
)

// maxLineBytes caps a pending line; longer output is forwarded as a line of its own.
const maxLineBytes = 64 << 10

// lineWriter forwards complete lines to out and keeps the last max lines.
// It is not safe for concurrent use; exec serializes writes when Stdout and
// Stderr are the same writer.
type lineWriter struct {
	out     io.Writer
	partial []byte
	tail    []string
	max     int
}

func newLineWriter(out io.Writer, max int) *lineWriter {
	return &lineWriter{out: out, max: max}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i+1])
		w.partial = w.partial[i+1:]
	}
	for len(w.partial) >= maxLineBytes {
		w.emit(append(w.partial[:maxLineBytes:maxLineBytes], '\n'))
		w.partial = w.partial[maxLineBytes:]
	}
	if len(w.partial) == 0 {
		w.partial = nil
	}
	return len(p), nil
}

// Flush forwards a trailing line without newline.
func (w *lineWriter) Flush() {
	if len(w.partial) == 0 {
		return
	}
	w.emit(append(w.partial, '\n'))
	w.partial = nil
}

// Tail returns the retained lines joined by newlines.
func (w *lineWriter) Tail() string {
	return strings.Join(w.tail, "\n")
}

func (w *lineWriter) emit(line []byte) {
	// Forwarding errors are ignored.
	_, _ = w.out.Write(line)

	text := strings.TrimRight(string(line), "\r\n")
	if len(w.tail) == w.max {
		copy(w.tail, w.tail[1:])
		w.tail = w.tail[:w.max-1]
	}
	w.tail = append(w.tail, text)
}
