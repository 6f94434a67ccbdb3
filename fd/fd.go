package fd

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	ClosedError     = errors.New("FD:CLOSED")
	WouldBlockError = errors.New("FD:WOULDBLOCK")
)

// A Descriptor owns one raw OS socket handle.  It is the lowest layer
// of the library: every call maps onto a single syscall (with EINTR
// retried), and no state is kept beyond the handle itself and the
// broken-pipe signalling flag.
//
// A descriptor is valid while its handle is open.  Close releases the
// handle and permanently invalidates the descriptor; there is no
// reopening.
type Descriptor struct {
	raw   int
	nosig bool
}

// Socket opens a new stream socket in the given address family.
func Socket(domain int) (*Descriptor, error) {
	raw, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "Error opening stream socket [domain=%v]", domain)
	}

	unix.CloseOnExec(raw)
	return &Descriptor{raw: raw}, nil
}

// Wrap takes ownership of an already-open handle, typically one
// returned by accept.
func Wrap(raw int) *Descriptor {
	return &Descriptor{raw: raw}
}

func (d *Descriptor) Valid() bool {
	return d != nil && d.raw >= 0
}

func (d *Descriptor) Raw() int {
	return d.raw
}

// Read performs a single blocking read.  The count of bytes read is
// returned along with any syscall error.
func (d *Descriptor) Read(p []byte) (int, error) {
	if !d.Valid() {
		return -1, ClosedError
	}

	for {
		n, err := unix.Read(d.raw, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return n, err
		}

		return n, nil
	}
}

// Write performs a single blocking write.  When broken-pipe signalling
// has been disabled, the platform's no-signal mechanism is applied.
func (d *Descriptor) Write(p []byte) (int, error) {
	if !d.Valid() {
		return -1, ClosedError
	}

	return writeRaw(d.raw, p, d.nosig)
}

// Available reports the number of bytes that can be read without
// blocking.  The underlying ioctl is the platform's spelling of
// FIONREAD.
func (d *Descriptor) Available() (int, error) {
	if !d.Valid() {
		return 0, ClosedError
	}

	n, err := unix.IoctlGetInt(d.raw, availIoctl)
	if err != nil {
		return 0, errors.Wrap(err, "Error querying available bytes")
	}

	return n, nil
}

// ShutdownRead shuts down the receive half of the connection.  The
// handle stays open for writing.
func (d *Descriptor) ShutdownRead() error {
	if !d.Valid() {
		return ClosedError
	}

	return unix.Shutdown(d.raw, unix.SHUT_RD)
}

func (d *Descriptor) SetNonblocking(enabled bool) error {
	if !d.Valid() {
		return ClosedError
	}

	return unix.SetNonblock(d.raw, enabled)
}

func (d *Descriptor) SetReuseAddr() error {
	if !d.Valid() {
		return ClosedError
	}

	return unix.SetsockoptInt(d.raw, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func (d *Descriptor) Bind(sa unix.Sockaddr) error {
	if !d.Valid() {
		return ClosedError
	}

	return unix.Bind(d.raw, sa)
}

func (d *Descriptor) Connect(sa unix.Sockaddr) error {
	if !d.Valid() {
		return ClosedError
	}

	for {
		err := unix.Connect(d.raw, sa)
		if err == unix.EINTR {
			continue
		}

		return err
	}
}

func (d *Descriptor) Listen(backlog int) error {
	if !d.Valid() {
		return ClosedError
	}

	return unix.Listen(d.raw, backlog)
}

// Accept takes one pending connection off the listen queue.  On a
// nonblocking descriptor with an empty queue, WouldBlockError is
// returned; the caller is expected to treat that as a clean stop.
func (d *Descriptor) Accept() (*Descriptor, unix.Sockaddr, error) {
	if !d.Valid() {
		return nil, nil, ClosedError
	}

	for {
		raw, sa, err := unix.Accept(d.raw)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil, WouldBlockError
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "Error accepting connection")
		}

		unix.CloseOnExec(raw)
		return &Descriptor{raw: raw}, sa, nil
	}
}

func (d *Descriptor) Sockname() (unix.Sockaddr, error) {
	if !d.Valid() {
		return nil, ClosedError
	}

	return unix.Getsockname(d.raw)
}

func (d *Descriptor) Peername() (unix.Sockaddr, error) {
	if !d.Valid() {
		return nil, ClosedError
	}

	return unix.Getpeername(d.raw)
}

// Close releases the handle.  Safe to call more than once; only the
// first call reaches the OS.
func (d *Descriptor) Close() error {
	if !d.Valid() {
		return nil
	}

	raw := d.raw
	d.raw = -1
	return unix.Close(raw)
}

// Pair opens a connected pair of local stream sockets.  Intended for
// tests and in-process plumbing.
func Pair() (*Descriptor, *Descriptor, error) {
	raws, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Error opening socket pair")
	}

	unix.CloseOnExec(raws[0])
	unix.CloseOnExec(raws[1])
	return &Descriptor{raw: raws[0]}, &Descriptor{raw: raws[1]}, nil
}

// Errno digs the raw OS error code out of an error returned by this
// package.  Returns 0 when the error carries no errno.
func Errno(err error) unix.Errno {
	switch cause := errors.Cause(err).(type) {
	case unix.Errno:
		return cause
	default:
		return 0
	}
}
