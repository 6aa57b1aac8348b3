package lirc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	// ErrAlreadyRunning is returned by Start when the bridge is already
	// reading from lircd.
	ErrAlreadyRunning = errors.New("bridge already running")

	// ErrConnection matches every *ConnectionError.
	ErrConnection = errors.New("cannot connect to lircd")

	// ErrEndOfStream is returned when lircd closes its end of the socket.
	ErrEndOfStream = errors.New("lircd closed the connection")

	// ErrLineTooLong is returned by Session.ReadLine for a line longer than
	// MaxLineLength.
	ErrLineTooLong = errors.New("lircd line too long")

	// ErrTooFewFields is wrapped by a *DecodeError for lines that do not
	// carry a code, repeat count, button and remote.
	ErrTooFewFields = errors.New("too few fields")
)

// ConnectionError reports a failure to open the lircd socket.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to lircd at %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// DecodeError reports a line that is neither a control message nor a
// well-formed button event.
type DecodeError struct {
	Line   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed lircd line %q: %s", e.Line, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// isClosedError reports whether err means the connection is gone for good:
// EOF, a closed socket, a broken pipe or a reset. Reading again after one
// of these can never succeed.
func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
