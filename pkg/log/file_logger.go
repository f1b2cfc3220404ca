package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxFileSize caps a capture file. A tracker runs for hours on a
// small flash volume; once the cap is reached further events are counted
// and dropped.
const DefaultMaxFileSize int64 = 64 << 20

// FileLogger writes protocol events to a file in CBOR format.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file    *os.File
	encoder *cbor.Encoder
	counter *countingWriter

	maxSize int64
	dropped uint64

	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens path for appending with DefaultMaxFileSize.
func NewFileLogger(path string) (*FileLogger, error) {
	return NewFileLoggerWithLimit(path, DefaultMaxFileSize)
}

// NewFileLoggerWithLimit opens path for appending. A maxSize of zero or
// less disables the cap.
func NewFileLoggerWithLimit(path string, maxSize int64) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat capture file: %w", err)
	}
	cw := &countingWriter{f: f, n: info.Size()}
	return &FileLogger{
		file:    f,
		encoder: NewEncoder(cw),
		counter: cw,
		maxSize: maxSize,
	}, nil
}

// Log writes an event to the capture file. Encoding errors are ignored:
// capture must not disrupt the client.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if l.maxSize > 0 && l.counter.n >= l.maxSize {
		l.dropped++
		return
	}
	_ = l.encoder.Encode(event)
}

// Size returns the current file size in bytes.
func (l *FileLogger) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter.n
}

// Dropped returns the number of events discarded because of the size cap.
func (l *FileLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the file. It is safe to call more than once; later Log
// calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

type countingWriter struct {
	f *os.File
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

var _ Logger = (*FileLogger)(nil)
