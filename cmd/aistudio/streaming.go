package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamSmooth  StreamMode = "smooth"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return StreamInstant, nil
	case StreamInstant, StreamSmooth, StreamQuiet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (expected instant, smooth, or quiet)", s)
	}
}

// StreamWriter prints reply fragments as they arrive.
//
// Instant flushes every fragment, smooth batches fragments and flushes them
// on a short timer, quiet prints the whole reply on Close.
type StreamWriter struct {
	mode StreamMode
	out  *bufio.Writer
	raw  bool

	flushInterval time.Duration
	batchSize     int

	mu        sync.Mutex
	pending   int
	lastFlush time.Time
	reply     strings.Builder
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewStreamWriter(w io.Writer, mode StreamMode, raw bool) *StreamWriter {
	sw := &StreamWriter{
		mode:          mode,
		out:           bufio.NewWriterSize(w, 4096),
		raw:           raw,
		flushInterval: 50 * time.Millisecond,
		batchSize:     8,
		lastFlush:     time.Now(),
		stop:          make(chan struct{}),
	}
	if mode == StreamSmooth {
		sw.wg.Add(1)
		go sw.backgroundFlusher()
	}
	return sw
}

// Write handles one decoded fragment.
func (w *StreamWriter) Write(fragment string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.reply.WriteString(fragment)

	switch w.mode {
	case StreamQuiet:
		return
	case StreamSmooth:
		w.emit(fragment)
		w.pending++
		if w.pending >= w.batchSize || time.Since(w.lastFlush) >= w.flushInterval {
			w.flushLocked()
		}
	default:
		w.emit(fragment)
		w.flushLocked()
	}
}

// Close flushes anything buffered, stops the flusher and returns the reply.
func (w *StreamWriter) Close() string {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.reply.String()
	}
	w.closed = true
	if w.mode == StreamQuiet {
		w.emit(w.reply.String())
	}
	w.flushLocked()
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
	return w.reply.String()
}

func (w *StreamWriter) emit(s string) {
	if w.raw {
		s = escapeRawOutput(s)
	}
	_, _ = w.out.WriteString(s)
}

// flushLocked must be called with mu held.
func (w *StreamWriter) flushLocked() {
	_ = w.out.Flush()
	w.pending = 0
	w.lastFlush = time.Now()
}

func (w *StreamWriter) backgroundFlusher() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.pending > 0 && time.Since(w.lastFlush) >= w.flushInterval {
				w.flushLocked()
			}
			w.mu.Unlock()
		}
	}
}

// escapeRawOutput makes control characters visible.
func escapeRawOutput(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			if strconv.IsPrint(r) {
				sb.WriteRune(r)
			} else {
				fmt.Fprintf(&sb, `\u%04x`, r)
			}
		}
	}
	return sb.String()
}
