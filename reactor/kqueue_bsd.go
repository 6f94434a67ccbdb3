//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// The BSD poller over kqueue.  kevent reports the number of readable
// bytes directly in Data, so no FIONREAD round trip is needed here.
type kqueuePoller struct {
	kq    int
	wakeR int
	wakeW int
	raw   []unix.Kevent_t

	mu       sync.Mutex
	interest map[int]kqInterest
}

type kqInterest struct {
	read  bool
	write bool
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "Error creating kqueue")
	}
	unix.CloseOnExec(kq)

	var pipe [2]int
	if err := unix.Pipe(pipe[:]); err != nil {
		unix.Close(kq)
		return nil, errors.Wrap(err, "Error creating wake pipe")
	}
	unix.SetNonblock(pipe[0], true)
	unix.SetNonblock(pipe[1], true)

	p := &kqueuePoller{kq: kq, wakeR: pipe[0], wakeW: pipe[1], interest: make(map[int]kqInterest)}

	var kev unix.Kevent_t
	unix.SetKevent(&kev, p.wakeR, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		p.close()
		return nil, errors.Wrap(err, "Error arming wake pipe")
	}

	return p, nil
}

func (p *kqueuePoller) update(fd int, read bool, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.interest[fd]

	// changes are applied one at a time: kevent aborts a batch on the
	// first failure, and a benign ENOENT delete must not swallow an add.
	if read != prev.read {
		if err := p.change(fd, unix.EVFILT_READ, read); err != nil {
			return err
		}
	}

	if write != prev.write {
		if err := p.change(fd, unix.EVFILT_WRITE, write); err != nil {
			return err
		}
	}

	if !read && !write {
		delete(p.interest, fd)
	} else {
		p.interest[fd] = kqInterest{read, write}
	}

	return nil
}

func (p *kqueuePoller) change(fd int, filter int, enable bool) error {
	flags := unix.EV_ADD | unix.EV_ENABLE
	if !enable {
		flags = unix.EV_DELETE
	}

	var kev unix.Kevent_t
	unix.SetKevent(&kev, fd, filter, flags)

	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		// deleting a filter the kernel already dropped is benign
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return err
	}

	return nil
}

func (p *kqueuePoller) wait(evs []event) (int, error) {
	if len(p.raw) < len(evs) {
		p.raw = make([]unix.Kevent_t, len(evs))
	}

	for {
		n, err := unix.Kevent(p.kq, nil, p.raw[:len(evs)], nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrap(err, "Error in kevent wait")
		}

		out := 0
		for i := 0; i < n; i++ {
			raw := p.raw[i]
			fd := int(raw.Ident)
			if fd == p.wakeR {
				p.drainWake()
				continue
			}

			ev := event{fd: fd, avail: -1}
			switch raw.Filter {
			case unix.EVFILT_READ:
				ev.readable = true
				ev.avail = int(raw.Data)
			case unix.EVFILT_WRITE:
				ev.writable = true
			}

			evs[out] = ev
			out++
		}

		return out, nil
	}
}

func (p *kqueuePoller) wake() error {
	_, err := unix.Write(p.wakeW, []byte{0})
	if err == unix.EAGAIN {
		return nil // a wake is already pending
	}

	return err
}

func (p *kqueuePoller) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *kqueuePoller) close() error {
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return unix.Close(p.kq)
}
