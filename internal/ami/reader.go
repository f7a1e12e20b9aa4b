package ami

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxLineSize is the longest line a Reader accepts unless told
// otherwise. Channel variable dumps and UserEvents can run well past
// bufio.MaxScanTokenSize.
const DefaultMaxLineSize = 1 << 20

// Reader turns an AMI byte stream into Events. A blank line ends an event.
// Lines that arrive before any header (the banner, stray output) are
// dropped; inside an event a line that is not "Key: value" is kept as a
// keyless header so Command output survives.
type Reader struct {
	scanner *bufio.Scanner
	maxLine int
	err     error
}

// NewReader creates a Reader over r with DefaultMaxLineSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineSize)
}

// NewReaderSize creates a Reader over r that accepts lines up to maxLine
// bytes. A longer line ends the stream and is reported by Err.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)
	return &Reader{scanner: sc, maxLine: maxLine}
}

// Next returns the next event, or false at end of stream.
func (r *Reader) Next() (Event, bool) {
	if r.err != nil {
		return Event{}, false
	}

	var headers []Header
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if len(headers) == 0 {
				continue
			}
			return Event{headers: headers}, true
		}

		h, ok := parseHeader(line)
		if !ok && len(headers) == 0 {
			continue
		}
		headers = append(headers, h)
	}

	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = fmt.Errorf("AMI line longer than %d bytes: %w", r.maxLine, err)
		}
		r.err = err
		return Event{}, false
	}

	// Streams may end without the closing blank line.
	if len(headers) > 0 {
		return Event{headers: headers}, true
	}
	return Event{}, false
}

// parseHeader splits "Key: value". Keys never contain spaces, which keeps
// free-form text with a colon in it from being read as a header.
func parseHeader(line string) (Header, bool) {
	key, value, ok := strings.Cut(line, ":")
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return Header{Value: line}, false
	}
	return Header{Key: key, Value: strings.TrimPrefix(value, " ")}, true
}

// Err returns the first non-EOF read error.
func (r *Reader) Err() error {
	return r.err
}

// ReadAll drains the stream.
func (r *Reader) ReadAll() []Event {
	var events []Event
	for evt, ok := r.Next(); ok; evt, ok = r.Next() {
		events = append(events, evt)
	}
	return events
}

// ParseBytes parses every event in data.
func ParseBytes(data []byte) []Event {
	return NewReader(bytes.NewReader(data)).ReadAll()
}
