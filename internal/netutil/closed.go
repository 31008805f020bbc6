package netutil

import (
	"errors"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// IsExpectedCloseError reports whether err is a normal connection termination:
// EOF, use of a closed connection, broken pipe or connection reset.
// Such errors show up on the surviving side when the other peer goes away.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return true
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EPIPE || errno == unix.ECONNRESET || errno == unix.ENOTCONN
	}

	return false
}

// IsClosedListenerError reports whether err was returned by Accept
// on a listener that has been closed.
func IsClosedListenerError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
