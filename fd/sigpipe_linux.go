//go:build linux

package fd

import "golang.org/x/sys/unix"

// TIOCINQ is how linux spells the readable-byte-count ioctl.
const availIoctl = unix.TIOCINQ

// Linux has no SO_NOSIGPIPE.  Suppression is applied per write with
// MSG_NOSIGNAL, so disabling only flips the descriptor's flag.
func (d *Descriptor) DisableSIGPIPE() error {
	if !d.Valid() {
		return ClosedError
	}

	d.nosig = true
	return nil
}

func writeRaw(raw int, p []byte, nosig bool) (int, error) {
	for {
		var n int
		var err error
		if nosig {
			n, err = unix.SendmsgN(raw, p, nil, nil, unix.MSG_NOSIGNAL)
		} else {
			n, err = unix.Write(raw, p)
		}

		if err == unix.EINTR {
			continue
		}

		return n, err
	}
}

// SendNoSignal is the write primitive used for reactor-driven writes.
// Broken-pipe signals are always suppressed on that path; the error is
// delivered to the completion instead.  MSG_DONTWAIT keeps the send
// nonblocking regardless of the descriptor's blocking mode: the reactor
// loop must never park inside a send syscall.
func SendNoSignal(raw int, p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(raw, p, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}

		return n, err
	}
}
