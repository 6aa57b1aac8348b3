package lirc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxLineLength bounds one lircd line, terminator included. lircd lines
// are well under a hundred bytes; longer input is discarded up to the next
// newline.
const MaxLineLength = 4096

// aLongTimeAgo is a non-zero time in the past. Setting it as a read
// deadline makes a blocked Read return immediately.
var aLongTimeAgo = time.Unix(1, 0)

// DialFunc opens a Session to the lircd socket at path.
type DialFunc func(ctx context.Context, path string) (*Session, error)

// Session is one client connection to lircd and its line reader. A Session
// is not safe for concurrent use; the Bridge confines it to its reader
// goroutine.
type Session struct {
	path   string
	conn   net.Conn
	reader *bufio.Reader

	// partial holds the bytes of a line whose read was interrupted by
	// cancellation. They are prefixed to the next complete line.
	partial []byte
	// discarding is set while skipping the rest of an overlong line.
	discarding bool

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the lircd stream socket at path. Failures are returned
// as a *ConnectionError; nothing is retried.
func Dial(ctx context.Context, path string) (*Session, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, &ConnectionError{Path: path, Err: err}
	}
	return NewSession(path, conn), nil
}

// NewSession wraps an established connection. path is used only in error
// messages.
func NewSession(path string, conn net.Conn) *Session {
	return &Session{
		path:   path,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// ReadLine blocks until lircd sends a complete line and returns it without
// its terminator. It returns ctx.Err() once ctx is cancelled, an error
// wrapping ErrEndOfStream when lircd hangs up, ErrLineTooLong for a line
// over MaxLineLength, or the underlying read error. After ErrLineTooLong the
// rest of that line is skipped and the next call reads the line after it.
//
// Cancellation interrupts the read through the connection's read deadline,
// so the socket stays usable and no buffered bytes are lost.
func (s *Session) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Clear any deadline left behind by an earlier cancellation.
	s.conn.SetReadDeadline(time.Time{})

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(aLongTimeAgo)
		close(interrupted)
	})

	line, err := s.readLine()
	if !stop() {
		// The interrupt is running or has run; wait so it cannot land on
		// the next read.
		<-interrupted
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading from %s: %w: %w", s.path, ErrEndOfStream, err)
		}
		return "", fmt.Errorf("reading from %s: %w", s.path, err)
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// readLine returns the next complete line without its newline. Bytes read
// before an error stay in partial for the next call.
func (s *Session) readLine() ([]byte, error) {
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if s.discarding {
			if err == nil {
				s.discarding = false
				continue
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return nil, err
		}

		s.partial = append(s.partial, chunk...)
		if len(s.partial) > MaxLineLength {
			s.partial = nil
			s.discarding = err != nil
			return nil, ErrLineTooLong
		}
		if err == nil {
			line := s.partial[:len(s.partial)-1]
			s.partial = nil
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

// Close releases the socket and any buffered data. It is safe to call on a
// nil Session and more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.partial = nil
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
