//go:build linux

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// The linux poller over epoll.  Interest is level-triggered: a
// readable descriptor keeps reporting until drained, which is what the
// drain loops upstream rely on.
type epollPoller struct {
	epfd  int
	wakeR int
	wakeW int
	raw   []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "Error creating epoll instance")
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "Error creating wake pipe")
	}

	p := &epollPoller{epfd: epfd, wakeR: pipe[0], wakeW: pipe[1]}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, p.wakeR, &ev); err != nil {
		p.close()
		return nil, errors.Wrap(err, "Error arming wake pipe")
	}

	return p, nil
}

func (p *epollPoller) update(fd int, read bool, write bool) error {
	var events uint32
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}

	if events == 0 {
		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return err
	}

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}

	return err
}

func (p *epollPoller) wait(evs []event) (int, error) {
	if len(p.raw) < len(evs) {
		p.raw = make([]unix.EpollEvent, len(evs))
	}

	for {
		n, err := unix.EpollWait(p.epfd, p.raw[:len(evs)], -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "Error in epoll wait")
		}

		out := 0
		for i := 0; i < n; i++ {
			raw := p.raw[i]
			fd := int(raw.Fd)
			if fd == p.wakeR {
				p.drainWake()
				continue
			}

			ev := event{fd: fd, avail: -1}

			// errors and hangups surface as readability so the
			// consumer's next read observes them.
			if raw.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ev.readable = true
				// TIOCINQ is linux's FIONREAD
				if avail, err := unix.IoctlGetInt(fd, unix.TIOCINQ); err == nil {
					ev.avail = avail
				}
			}
			if raw.Events&unix.EPOLLOUT != 0 {
				ev.writable = true
			}

			evs[out] = ev
			out++
		}

		return out, nil
	}
}

func (p *epollPoller) wake() error {
	_, err := unix.Write(p.wakeW, []byte{0})
	if err == unix.EAGAIN {
		return nil // a wake is already pending
	}

	return err
}

func (p *epollPoller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) close() error {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.epfd)
}
