package buslog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// maxPartSize bounds a single part so a corrupt length can not exhaust memory.
const maxPartSize = 64 << 20

// ErrTruncated is returned when the log ends in the middle of a record.
var ErrTruncated = errors.New("buslog: truncated record")

// Record is one logged message. Time is zero for logs without timestamps.
type Record struct {
	Time  time.Time
	Parts [][]byte
}

// Reader reads records sequentially.
type Reader struct {
	r          *bufio.Reader
	closer     io.Closer
	timestamps bool
}

// NewReader wraps r. timestamps must match the setting the log was written with.
func NewReader(r io.Reader, timestamps bool) *Reader {
	rd := &Reader{r: bufio.NewReaderSize(r, bufferSize), timestamps: timestamps}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Open opens a log file.
func Open(path string, timestamps bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return NewReader(f, timestamps), nil
}

// Next returns the next record, or io.EOF after the last complete one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	var hdr [8]byte

	if r.timestamps {
		if err := r.readFull(hdr[:8], true); err != nil {
			return Record{}, err
		}
		rec.Time = time.UnixMicro(int64(binary.LittleEndian.Uint64(hdr[:8])))
	}

	if err := r.readFull(hdr[:4], !r.timestamps); err != nil {
		return Record{}, err
	}
	count := binary.LittleEndian.Uint32(hdr[:4])

	rec.Parts = make([][]byte, 0, min(count, 16))
	for i := uint32(0); i < count; i++ {
		if err := r.readFull(hdr[:4], false); err != nil {
			return Record{}, err
		}
		size := binary.LittleEndian.Uint32(hdr[:4])
		if size > maxPartSize {
			return Record{}, fmt.Errorf("buslog: part %d of %d bytes exceeds the %d byte limit", i, size, maxPartSize)
		}

		part := make([]byte, size)
		if err := r.readFull(part, false); err != nil {
			return Record{}, err
		}
		rec.Parts = append(rec.Parts, part)
	}

	return rec, nil
}

// Close closes the underlying reader when it is closable.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// readFull maps a clean end of input at a record boundary to io.EOF and any
// other short read to ErrTruncated.
func (r *Reader) readFull(buf []byte, recordStart bool) error {
	_, err := io.ReadFull(r.r, buf)
	switch {
	case err == nil:
		return nil
	case err == io.EOF && recordStart:
		return io.EOF
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return ErrTruncated
	default:
		return fmt.Errorf("failed to read log: %w", err)
	}
}
