// Package buslog reads and writes the broker's append-only traffic log.
//
// Each record is one relayed multipart message:
//
//	[timestamp: u64 LE, microseconds since Unix epoch]  (only when timestamps are on)
//	[part count: u32 LE]
//	part count x ([part length: u32 LE][part bytes])
package buslog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const bufferSize = 64 * 1024

// FileName returns the log file name for a broker started at t.
func FileName(t time.Time) string {
	return "its-broker-log-" + t.UTC().Format("20060102T150405") + ".zmq-log"
}

// Writer appends records to a log. Data reaches the underlying writer only on
// Flush, Close, or when the internal buffer fills up.
type Writer struct {
	w          *bufio.Writer
	closer     io.Closer
	timestamps bool
	now        func() time.Time
	path       string

	records uint64
	bytes   uint64
}

// NewWriter wraps w.
func NewWriter(w io.Writer, timestamps bool) *Writer {
	wr := &Writer{
		w:          bufio.NewWriterSize(w, bufferSize),
		timestamps: timestamps,
		now:        time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}
	return wr
}

// Create opens a new log file in dir named after the current time.
func Create(dir string, timestamps bool) (*Writer, error) {
	path := filepath.Join(dir, FileName(time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", path, err)
	}

	w := NewWriter(f, timestamps)
	w.path = path
	return w, nil
}

// Path returns the file path for writers made by Create.
func (w *Writer) Path() string {
	return w.path
}

// Write appends one multipart message and returns the encoded record length.
func (w *Writer) Write(parts [][]byte) (int, error) {
	var hdr [8]byte
	n := 0

	if w.timestamps {
		binary.LittleEndian.PutUint64(hdr[:8], uint64(w.now().UnixMicro()))
		if _, err := w.w.Write(hdr[:8]); err != nil {
			return n, fmt.Errorf("failed to write log timestamp: %w", err)
		}
		n += 8
	}

	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(parts)))
	if _, err := w.w.Write(hdr[:4]); err != nil {
		return n, fmt.Errorf("failed to write log record header: %w", err)
	}
	n += 4

	for _, part := range parts {
		binary.LittleEndian.PutUint32(hdr[:4], uint32(len(part)))
		if _, err := w.w.Write(hdr[:4]); err != nil {
			return n, fmt.Errorf("failed to write log part header: %w", err)
		}
		if _, err := w.w.Write(part); err != nil {
			return n, fmt.Errorf("failed to write log part: %w", err)
		}
		n += 4 + len(part)
	}

	w.records++
	w.bytes += uint64(n)
	return n, nil
}

// Flush pushes buffered records to the underlying writer, syncing files.
func (w *Writer) Flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush log: %w", err)
	}
	if f, ok := w.closer.(*os.File); ok {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("failed to sync log file: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close log: %w", cerr)
		}
	}
	return err
}

// Written returns the number of records and bytes accepted so far.
func (w *Writer) Written() (records, bytes uint64) {
	return w.records, w.bytes
}
