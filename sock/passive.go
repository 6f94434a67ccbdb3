package sock

import (
	"github.com/mitsuse/swiftsockets/addr"
	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/mitsuse/swiftsockets/fd"
	"github.com/mitsuse/swiftsockets/reactor"
	"github.com/pkg/errors"
)

var defaultListenBacklog = 5

// AcceptFunc receives each connection the accept loop produces.  The
// connection inherits the listener's queue and arrives connected.
type AcceptFunc func(conn *ActiveSocket)

// A PassiveSocket is a listening endpoint.  It is bound at
// construction; listening starts explicitly.  With a handler
// installed, every accept-readiness event runs a drain loop that turns
// pending connections into ActiveSockets.
type PassiveSocket struct {
	Socket

	engine reactor.Reactor
	queue  *concurrent.Queue

	listening bool
	backlog   int
	sub       reactor.Subscription

	stats *passiveStats
}

// NewPassiveSocket opens a socket in the address family of local and
// binds it there.  On any failure the partially-created descriptor is
// closed and no instance is returned.
func NewPassiveSocket(ctx common.Context, local addr.Addr) (*PassiveSocket, error) {
	desc, err := fd.Socket(local.Domain())
	if err != nil {
		return nil, errors.Wrap(err, "Error creating listen socket")
	}

	s := &PassiveSocket{Socket: newSocket(ctx, desc), engine: reactor.Default()}
	s.stats = newPassiveStats(s.id)

	if err := desc.SetReuseAddr(); err != nil {
		s.log.Debug("Error setting SO_REUSEADDR: %v", err)
	}

	if err := desc.Bind(local.Sockaddr()); err != nil {
		desc.Close()
		return nil, errors.Wrapf(err, "Error binding to [%v]", local)
	}

	return s, nil
}

func (s *PassiveSocket) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Backlog reports the backlog recorded by a successful Listen, or -1
// when the socket is not listening.
func (s *PassiveSocket) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listening {
		return -1
	}

	return s.backlog
}

// Listen starts the OS listen queue.  A socket that is already
// listening succeeds as a no-op.  On success the descriptor is marked
// nonblocking, which the accept drain loop depends on.  A backlog of
// zero or less falls back to configuration.
func (s *PassiveSocket) Listen(backlog int) bool {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return true
	}
	if !s.valid {
		s.mu.Unlock()
		s.assertf("Listen on a closed socket")
		return false
	}
	if backlog <= 0 {
		backlog = s.conf.OptionalInt(common.ConfListenBacklog, defaultListenBacklog)
	}

	desc := s.desc
	s.mu.Unlock()

	if err := desc.Listen(backlog); err != nil {
		s.log.Error("Error listening [backlog=%v]: %v", backlog, err)
		return false
	}

	if err := desc.SetNonblocking(true); err != nil {
		s.log.Error("Error marking listener nonblocking: %v", err)
		return false
	}

	s.mu.Lock()
	s.listening = true
	s.backlog = backlog
	s.mu.Unlock()

	s.log.Debug("Listening [backlog=%v]", backlog)
	return true
}

// ListenWithHandler composes an accept-readiness subscription with
// Listen.  The registration is live before the listen syscall runs; if
// listen fails it is cancelled again and false is returned.  onAccept
// runs on queue for every connection the drain loop accepts.
func (s *PassiveSocket) ListenWithHandler(queue *concurrent.Queue, backlog int, onAccept AcceptFunc) bool {
	if onAccept == nil {
		s.assertf("ListenWithHandler without an accept handler")
		return false
	}

	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		s.assertf("ListenWithHandler on a closed socket")
		return false
	}
	if s.listening {
		s.mu.Unlock()
		s.assertf("ListenWithHandler on a socket that is already listening")
		return false
	}
	if queue == nil {
		s.log.Info("No event queue configured, falling back to the default queue")
		queue = concurrent.DefaultQueue()
	}

	s.queue = queue
	raw := s.desc.Raw()
	s.mu.Unlock()

	sub, err := s.engine.RegisterRead(raw, queue, func(int) {
		s.acceptPending(onAccept)
	})
	if err != nil {
		s.log.Error("Error registering for accept events: %v", err)
		return false
	}
	sub.Resume()

	if !s.Listen(backlog) {
		sub.Cancel()
		return false
	}

	s.mu.Lock()
	if !s.valid {
		// lost a race with Close; the subscription must not outlive
		// the socket that owns it.
		s.mu.Unlock()
		sub.Cancel()
		return false
	}
	s.sub = sub
	s.mu.Unlock()
	return true
}

// acceptPending drains the listen queue: accept until the OS reports
// would-block.  Any other accept error stops the loop for this event
// and is retried on the next readiness notification.
func (s *PassiveSocket) acceptPending(onAccept AcceptFunc) {
	for {
		s.mu.Lock()
		if !s.valid {
			s.mu.Unlock()
			return
		}

		desc := s.desc
		queue := s.queue
		s.mu.Unlock()

		conn, sa, err := desc.Accept()
		if err == fd.WouldBlockError {
			return
		}
		if err != nil {
			s.log.Error("Error accepting connection: %v", err)
			return
		}

		remote := addr.FromSockaddr(sa)
		child := newActiveSocket(s.ctx, conn, remote, queue)
		s.stats.accepted.Inc(1)

		s.log.Debug("Accepted connection from [%v]", remote)
		onAccept(child)
	}
}

// Close cancels the accept subscription, then releases the
// descriptor.  Idempotent.
func (s *PassiveSocket) Close() error {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return nil
	}

	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}

	return s.release()
}
