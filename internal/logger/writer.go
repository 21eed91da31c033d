package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// asyncWriter provides buffered asynchronous writes to one or more sinks.
// Lines are queued and flushed by a single background goroutine so hot paths
// never block on file I/O. Sink access is serialized: the loop goroutine owns
// the sinks, and the rare direct writes after shutdown take sinkMu.
type asyncWriter struct {
	queue    chan []byte
	flushReq chan chan error
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once

	sinkMu sync.Mutex
	sinks  []*bufio.Writer

	errMu    sync.Mutex
	writeErr error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	sinks := make([]*bufio.Writer, 0, len(writers))
	for _, w := range writers {
		if w == nil {
			continue
		}
		sinks = append(sinks, bufio.NewWriterSize(w, bufSize))
	}
	aw := &asyncWriter{
		queue:    make(chan []byte, 256),
		flushReq: make(chan chan error),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		sinks:    sinks,
	}
	go aw.loop()
	return aw
}

func (w *asyncWriter) loop() {
	for {
		select {
		case data := <-w.queue:
			w.writeAll(data)
		case resp := <-w.flushReq:
			w.drain()
			resp <- w.flushAll()
		case <-w.stop:
			w.drain()
			w.flushAll()
			close(w.done)
			return
		}
	}
}

func (w *asyncWriter) drain() {
	for {
		select {
		case data := <-w.queue:
			w.writeAll(data)
		default:
			return
		}
	}
}

func (w *asyncWriter) writeAll(data []byte) {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	for _, s := range w.sinks {
		if _, err := s.Write(data); err != nil {
			w.recordErr(err)
		}
	}
}

func (w *asyncWriter) flushAll() error {
	w.sinkMu.Lock()
	var errs []error
	for _, s := range w.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	w.sinkMu.Unlock()

	w.errMu.Lock()
	if w.writeErr != nil {
		errs = append(errs, w.writeErr)
		w.writeErr = nil
	}
	w.errMu.Unlock()
	return errors.Join(errs...)
}

func (w *asyncWriter) recordErr(err error) {
	w.errMu.Lock()
	if w.writeErr == nil {
		w.writeErr = err
	}
	w.errMu.Unlock()
}

// Write queues a line for asynchronous output. It copies data since the
// slog handler reuses buffers. A saturated queue blocks instead of writing
// from this goroutine, keeping all sink access on the loop.
func (w *asyncWriter) Write(data []byte) (int, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case w.queue <- cp:
	case <-w.done:
		// Writer already stopped; write directly under sinkMu.
		w.writeAll(cp)
	}
	return len(data), nil
}

// Flush forces buffered output to reach the underlying sinks.
func (w *asyncWriter) Flush() error {
	resp := make(chan error, 1)
	select {
	case w.flushReq <- resp:
		return <-resp
	case <-w.done:
		return w.flushAll()
	}
}

// Close drains queued lines, flushes sinks, and stops the background loop.
func (w *asyncWriter) Close() error {
	w.once.Do(func() {
		close(w.stop)
	})
	<-w.done
	return nil
}
