package ami

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Event is one AMI message: an ordered list of headers.
type Event struct {
	headers []Header
}

// Header is a single "Key: Value" line.
type Header struct {
	Key   string
	Value string
}

// NewEvent builds an Event from alternating keys and values.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, Header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the first value for key, or "".
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// GetInt returns the value for key as an int, or 0.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// Type is the event name from the Event header.
func (e Event) Type() string {
	return e.Get("Event")
}

// IsResponse reports whether this is a reply to an action.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// Success reports whether a response carries "Response: Success".
func (e Event) Success() bool {
	return strings.EqualFold(e.Get("Response"), "Success")
}

// Headers returns the headers in wire order.
func (e Event) Headers() []Header {
	return e.headers
}

// WriteTo writes the event in wire format, terminated by a blank line.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, h := range e.headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}
	b.WriteString("\r\n")
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
