//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package fd

import "golang.org/x/sys/unix"

const availIoctl = unix.FIONREAD

// The BSDs carry SO_NOSIGPIPE on the socket itself, so disabling is a
// one-time sockopt and plain writes are safe afterwards.
func (d *Descriptor) DisableSIGPIPE() error {
	if !d.Valid() {
		return ClosedError
	}

	if err := unix.SetsockoptInt(d.raw, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1); err != nil {
		return err
	}

	d.nosig = true
	return nil
}

func writeRaw(raw int, p []byte, _ bool) (int, error) {
	for {
		n, err := unix.Write(raw, p)
		if err == unix.EINTR {
			continue
		}

		return n, err
	}
}

// SendNoSignal is the write primitive used for reactor-driven writes.
// Sockets created by this library disable SIGPIPE at the socket level
// on these platforms, so no per-send signal flag is needed.
// MSG_DONTWAIT keeps the send nonblocking regardless of the
// descriptor's blocking mode: the reactor loop must never park inside
// a send syscall.
func SendNoSignal(raw int, p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(raw, p, nil, nil, unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}

		return n, err
	}
}
