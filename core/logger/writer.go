package logger

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// sink is a destination that accepts records at or above min.
type sink struct {
	w   io.Writer
	min slog.Level
}

type record struct {
	level slog.Level
	line  []byte
}

type bufferedSink struct {
	buf *bufio.Writer
	min slog.Level
}

// asyncWriter fans formatted lines out to sinks from a single goroutine.
type asyncWriter struct {
	queue    chan record
	flushReq chan chan error
	done     chan struct{}
	once     sync.Once
	sinks    []bufferedSink
	sinkMu   sync.Mutex
	writeErr error
}

func newAsyncWriter(sinks []sink, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	buffered := make([]bufferedSink, 0, len(sinks))
	for _, s := range sinks {
		if s.w == nil {
			continue
		}
		buffered = append(buffered, bufferedSink{buf: bufio.NewWriterSize(s.w, bufSize), min: s.min})
	}
	aw := &asyncWriter{
		queue:    make(chan record, 256),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
		sinks:    buffered,
	}
	go aw.loop()
	return aw
}

func (w *asyncWriter) loop() {
	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				_ = w.flushAll()
				close(w.done)
				return
			}
			if len(rec.line) == 0 {
				continue
			}
			if err := w.writeAll(rec); err != nil {
				w.setErr(err)
			}
		case ack := <-w.flushReq:
			ack <- w.flushAll()
		}
	}
}

// Write enqueues the line for every sink whose minimum level admits it.
func (w *asyncWriter) Write(level slog.Level, p []byte) error {
	if err := w.getErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	data := make([]byte, len(p))
	copy(data, p)
	// Blocks when the queue is full so that no line is lost.
	w.queue <- record{level: level, line: data}
	return nil
}

// Flush waits until everything queued so far reached the sinks.
func (w *asyncWriter) Flush() error {
	if err := w.getErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.flushReq <- ack
	return <-ack
}

// Close drains the queue and reports the first encountered write error.
func (w *asyncWriter) Close() error {
	w.once.Do(func() {
		close(w.queue)
	})
	<-w.done
	return w.getErr()
}

func (w *asyncWriter) writeAll(rec record) error {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	for _, s := range w.sinks {
		if rec.level < s.min {
			continue
		}
		if _, err := s.buf.Write(rec.line); err != nil {
			return err
		}
		if err := s.buf.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) flushAll() error {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	var errs []error
	for _, s := range w.sinks {
		if err := s.buf.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) getErr() error {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	return w.writeErr
}

func (w *asyncWriter) setErr(err error) {
	if err == nil {
		return
	}
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	if w.writeErr == nil {
		w.writeErr = err
	}
}
