package sock

import (
	"github.com/mitsuse/swiftsockets/addr"
	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/mitsuse/swiftsockets/fd"
	"github.com/mitsuse/swiftsockets/reactor"
	"github.com/pkg/errors"
)

// ReadFunc is invoked on the socket's queue whenever the descriptor
// becomes readable.  avail is the estimated number of bytes that can
// be read without blocking; the callback typically drains them with
// Read.
//
// The callback is stored by the socket and cleared during close, so a
// closure capturing its own socket does not pin it past teardown.
type ReadFunc func(s *ActiveSocket, avail int)

// An ActiveSocket is a full-duplex connected stream endpoint.
//
// Reads are event-driven: install a callback with OnRead and drain
// bytes inside it with the synchronous Read.  Writes are either the
// blocking Send or the buffered AsyncWrite path, whose completions are
// counted so that Close can defer teardown until every submitted write
// has finished.
//
// The lifecycle is: open, receive-half shutdown (first Close), then
// either immediate release or a draining period while pending writes
// complete, then released.  Released is terminal.
type ActiveSocket struct {
	Socket

	engine reactor.Reactor
	queue  *concurrent.Queue

	remote addr.Addr

	sub    reactor.Subscription
	readFn ReadFunc
	buf    *readBuffer

	pendingWrites  concurrent.AtomicCounter
	closeRequested bool
	readShutdown   bool

	stats *activeStats
}

// NewActiveSocket opens a fresh, unconnected stream socket in the
// given address family.
func NewActiveSocket(ctx common.Context, domain int) (*ActiveSocket, error) {
	desc, err := fd.Socket(domain)
	if err != nil {
		return nil, errors.Wrap(err, "Error creating stream socket")
	}

	return newActiveSocket(ctx, desc, nil, nil), nil
}

func newActiveSocket(ctx common.Context, desc *fd.Descriptor, remote addr.Addr, queue *concurrent.Queue) *ActiveSocket {
	s := &ActiveSocket{
		Socket: newSocket(ctx, desc),
		engine: reactor.Default(),
		queue:  queue,
		remote: remote}

	s.buf = newReadBuffer(s.conf.OptionalInt(common.ConfReadBufferSize, defaultReadBufferSize))
	s.stats = newActiveStats(s.id)

	if err := desc.DisableSIGPIPE(); err != nil {
		s.log.Debug("Error disabling SIGPIPE: %v", err)
	} else {
		s.sigpipeOff = true
	}

	return s
}

// SetQueue configures the serial queue the socket's callbacks run on.
// The queue is shared, not owned; it must outlive the socket's
// interest in it.  Unset sockets fall back to the process default on
// first use.
func (s *ActiveSocket) SetQueue(queue *concurrent.Queue) *ActiveSocket {
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
	return s
}

func (s *ActiveSocket) Queue() *concurrent.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue
}

func (s *ActiveSocket) RemoteAddr() addr.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *ActiveSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid && s.remote != nil
}

// Connect issues a blocking connect to the remote endpoint.  On
// success the remote address is recorded and onConnect (if any) is
// invoked exactly once, before Connect returns true.  On failure the
// socket is left untouched and false is returned.
//
// The call blocks the calling goroutine for the duration of the
// syscall; do not invoke it from the socket's own event queue.
func (s *ActiveSocket) Connect(remote addr.Addr, onConnect func(*ActiveSocket)) bool {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		s.assertf("Connect on a closed socket")
		return false
	}
	if s.remote != nil {
		s.mu.Unlock()
		s.assertf("Connect on an already connected socket [remote=%v]", s.remote)
		return false
	}

	desc := s.desc
	s.mu.Unlock()

	if err := desc.Connect(remote.Sockaddr()); err != nil {
		s.log.Error("Error connecting to [%v]: %v", remote, err)
		return false
	}

	s.mu.Lock()
	s.remote = remote
	s.localLocked()
	s.mu.Unlock()

	s.log.Debug("Connected to [%v]", remote)
	if onConnect != nil {
		onConnect(s)
	}

	return true
}

// OnRead installs the read callback, starting the readiness
// subscription on first install.  Passing nil stops the subscription
// and clears the callback; no event is delivered after that returns.
// Returns the socket for chaining.
func (s *ActiveSocket) OnRead(fn ReadFunc) *ActiveSocket {
	if fn == nil {
		s.stopEventHandler()
		return s
	}

	s.mu.Lock()
	s.readFn = fn
	s.mu.Unlock()

	s.startEventHandler()
	return s
}

func (s *ActiveSocket) startEventHandler() bool {
	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return true
	}
	if !s.valid || s.readShutdown {
		s.mu.Unlock()
		s.assertf("Starting read events on a closed socket")
		return false
	}
	if s.queue == nil {
		s.log.Info("No event queue configured, falling back to the default queue")
		s.queue = concurrent.DefaultQueue()
	}

	queue := s.queue
	raw := s.desc.Raw()
	s.mu.Unlock()

	sub, err := s.engine.RegisterRead(raw, queue, s.handleReadEvent)
	if err != nil {
		s.log.Error("Error registering for read events: %v", err)
		return false
	}

	// a registration must be resumed before it may be cancelled;
	// resuming here keeps stop legal at any later point.
	sub.Resume()

	s.mu.Lock()
	if s.sub != nil || !s.valid || s.readShutdown {
		s.mu.Unlock()
		sub.Cancel()
		return false
	}
	s.sub = sub
	s.mu.Unlock()
	return true
}

func (s *ActiveSocket) stopEventHandler() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.readFn = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (s *ActiveSocket) handleReadEvent(avail int) {
	s.mu.Lock()
	fn := s.readFn
	s.mu.Unlock()

	if fn != nil {
		fn(s, avail)
	}
}

// Read drains once into the owned buffer, bounded by the buffer's
// capacity.  On success the byte following the data is zeroed and a
// bounded view of the data is returned.  A closed socket is rejected
// with ErrClosed before any syscall.
//
// This is the synchronous primitive a read callback uses; it does not
// drive the event path itself.
func (s *ActiveSocket) Read() (int, []byte, error) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return -1, nil, ErrClosed
	}

	desc := s.desc
	buf := s.buf
	s.mu.Unlock()

	n, err := desc.Read(buf.slot())
	if err != nil {
		s.log.Debug("Error reading: %v", err)
		return n, nil, err
	}

	buf.terminate(n)
	s.stats.bytesRead.Inc(int64(n))
	return n, buf.view(n), nil
}

// ReadBufferSize reports the read buffer's current capacity.
func (s *ActiveSocket) ReadBufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.capacity()
}

// ResizeReadBuffer swaps the read buffer for one of the given
// capacity.  A resize to the current capacity is a no-op.  Only safe
// when no read is in flight, i.e. from the socket's own queue.
func (s *ActiveSocket) ResizeReadBuffer(size int) {
	s.mu.Lock()
	s.buf.resize(size)
	s.mu.Unlock()
}

// Send writes synchronously through the descriptor, blocking until the
// OS accepts the bytes.  No pending-write bookkeeping.
func (s *ActiveSocket) Send(p []byte) (int, error) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return -1, ErrClosed
	}

	desc := s.desc
	s.mu.Unlock()

	n, err := desc.Write(p)
	if n > 0 {
		s.stats.bytesSent.Inc(int64(n))
	}

	return n, err
}

// CanWrite reports whether an asynchronous write would currently be
// accepted.
func (s *ActiveSocket) CanWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid && !s.closeRequested
}

// AsyncWrite queues p for reactor-driven delivery.  The bytes are
// snapshotted, so the caller keeps ownership of p.  Returns false for
// writes after close was requested or on a closed socket; both are
// caller bugs and are reported as such.
func (s *ActiveSocket) AsyncWrite(p []byte) bool {
	s.mu.Lock()
	if !s.valid || s.closeRequested {
		s.mu.Unlock()
		s.assertf("Write on a socket whose close was already requested")
		return false
	}
	if len(p) == 0 {
		s.mu.Unlock()
		return true
	}
	if s.queue == nil {
		s.log.Info("No event queue configured, falling back to the default queue")
		s.queue = concurrent.DefaultQueue()
	}

	queue := s.queue
	raw := s.desc.Raw()
	s.pendingWrites.Inc()
	s.mu.Unlock()

	snapshot := make([]byte, len(p))
	copy(snapshot, p)

	if err := s.engine.SubmitWrite(raw, snapshot, queue, s.writeCompleted); err != nil {
		s.mu.Lock()
		s.pendingWrites.Dec()
		s.mu.Unlock()
		s.log.Error("Error submitting write: %v", err)
		return false
	}

	s.stats.bytesQueued.Inc(int64(len(p)))
	return true
}

// Write is AsyncWrite under the name most callers reach for.
func (s *ActiveSocket) Write(p []byte) bool {
	return s.AsyncWrite(p)
}

// WriteString encodes s and forwards it to the asynchronous path.
// Empty strings are a no-op success.
func (s *ActiveSocket) WriteString(data string) bool {
	if len(data) == 0 {
		return true
	}

	return s.AsyncWrite([]byte(data))
}

// writeCompleted observes one asynchronous write finishing.  When the
// last pending write drains and a close was requested, the deferred
// teardown runs here.  Completion errors never escalate; they are
// visible through diagnostics and stats only.
func (s *ActiveSocket) writeCompleted(written int, err error) {
	if err != nil {
		s.log.Info("Async write failed after [%v] bytes: %v", written, err)
		s.stats.writesFailed.Inc(1)
	} else {
		s.stats.bytesFlushed.Inc(int64(written))
		s.stats.writesCompleted.Inc(1)
	}

	s.mu.Lock()
	if s.pendingWrites.Get() > 0 {
		s.pendingWrites.Dec()
	}

	finish := s.pendingWrites.Get() == 0 && s.closeRequested
	if finish {
		s.closeRequested = false
		s.queue = nil
	}
	s.mu.Unlock()

	if finish {
		s.log.Debug("Last pending write completed, finishing close")
		s.release()
	}
}

// PendingWrites reports the number of asynchronous writes submitted
// but not yet completed.  The counter is atomic, so no lock is taken.
func (s *ActiveSocket) PendingWrites() int {
	return s.pendingWrites.Get()
}

// Close tears the socket down in phases.  The receive half is shut
// down exactly once: the read subscription stops, the callback slot is
// cleared and the OS receive channel is closed.  If asynchronous
// writes are still pending, the descriptor stays open until the last
// completion; otherwise it is released immediately.  Close of a
// released socket is a no-op.
func (s *ActiveSocket) Close() error {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return nil
	}

	if !s.readShutdown {
		s.readShutdown = true
		sub := s.sub
		s.sub = nil
		s.readFn = nil // break the socket <-> callback cycle
		desc := s.desc
		s.mu.Unlock()

		if sub != nil {
			sub.Cancel()
		}
		if err := desc.ShutdownRead(); err != nil {
			s.log.Debug("Error shutting down receive channel: %v", err)
		}

		s.mu.Lock()
	}

	if s.pendingWrites.Get() > 0 {
		s.closeRequested = true
		pending := s.pendingWrites.Get()
		s.mu.Unlock()

		s.log.Debug("Deferring close until [%v] pending writes complete", pending)
		return nil
	}

	s.queue = nil
	s.mu.Unlock()
	return s.release()
}
