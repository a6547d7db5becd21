package emitter

import (
	"bufio"
	"io"
)

// WriterSink writes events to an io.Writer such as stdout, flushing after every line
type WriterSink struct {
	w *bufio.Writer
}

// NewWriterSink wraps w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

// WriteEvent writes and flushes one line
func (s *WriterSink) WriteEvent(line []byte) error {
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes pending output. The underlying writer is left open.
func (s *WriterSink) Close() error {
	return s.w.Flush()
}
