// Package ami speaks just enough of the Asterisk Manager Interface to log in
// and follow the channel events that make up the organization's call roster.
package ami

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Action is an AMI request. Headers are written in order after "Action".
type Action struct {
	Name    string
	Headers []Header
}

// WriteTo writes the action in wire format, terminated by a blank line.
func (a Action) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\n", a.Name)
	for _, h := range a.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}
	b.WriteString("\r\n")
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// LoginAction builds the Login action for the given credentials.
func LoginAction(username, secret string) Action {
	return Action{
		Name: "Login",
		Headers: []Header{
			{Key: "Username", Value: username},
			{Key: "Secret", Value: secret},
		},
	}
}

// DefaultLoginTimeout bounds the banner and login exchange.
const DefaultLoginTimeout = 10 * time.Second

// Session is a logged-in AMI connection.
type Session struct {
	conn   net.Conn
	reader *Reader
	stop   func() bool
	Banner string
}

type dialOptions struct {
	loginTimeout time.Duration
	maxLineSize int
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

// WithLoginTimeout bounds how long the server may take to send its banner
// and answer the login.
func WithLoginTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.loginTimeout = d }
}

// WithMaxLineSize sets the longest header line the session accepts.
func WithMaxLineSize(n int) DialOption {
	return func(o *dialOptions) { o.maxLineSize = n }
}

// Dial connects to addr, reads the banner and logs in. The connection is
// closed when ctx is cancelled or the session is closed, whichever comes
// first.
func Dial(ctx context.Context, addr, username, secret string, opts ...DialOption) (*Session, error) {
	o := dialOptions{loginTimeout: DefaultLoginTimeout, maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(&o)
	}

	dialer := net.Dialer{Timeout: o.loginTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial AMI: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })

	if o.loginTimeout > 0 {
		conn.SetDeadline(time.Now().Add(o.loginTimeout))
	}
	s, err := newSession(conn, username, secret, o.maxLineSize)
	if err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		stop()
		conn.Close()
		return nil, fmt.Errorf("clearing login deadline: %w", err)
	}

	s.stop = stop
	return s, nil
}

func newSession(conn net.Conn, username, secret string, maxLineSize int) (*Session, error) {
	buffered := bufio.NewReader(conn)
	banner, err := buffered.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading AMI banner: %w", err)
	}

	if _, err := LoginAction(username, secret).WriteTo(conn); err != nil {
		return nil, fmt.Errorf("sending login: %w", err)
	}

	s := &Session{
		conn:   conn,
		reader: NewReaderSize(buffered, maxLineSize),
		Banner: strings.TrimSpace(banner),
	}

	resp, ok := s.reader.Next()
	if !ok {
		if err := s.reader.Err(); err != nil {
			return nil, fmt.Errorf("reading login response: %w", err)
		}
		return nil, fmt.Errorf("AMI connection closed during login")
	}
	if resp.IsResponse() && !resp.Success() {
		return nil, fmt.Errorf("AMI login rejected: %s", resp.Get("Message"))
	}
	return s, nil
}

// Next returns the next event from the connection, or false once it closes.
func (s *Session) Next() (Event, bool) {
	return s.reader.Next()
}

// Err returns the read error that ended the stream, if any.
func (s *Session) Err() error {
	return s.reader.Err()
}

// Close closes the connection and detaches it from the dial context.
func (s *Session) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.conn.Close()
}
