package reactor

import (
	"sync"

	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/pkg/errors"
)

var (
	ClosedError        = errors.New("REACTOR:CLOSED")
	RegisteredError    = errors.New("REACTOR:READ:REGISTERED")
	BacklogFullError   = errors.New("REACTOR:WRITE:BACKLOG:FULL")
	BadSubmissionError = errors.New("REACTOR:BAD:SUBMISSION")
)

// ReadyFunc receives read-readiness notifications along with the
// estimated number of bytes available at the time of the event.
type ReadyFunc func(avail int)

// CompletionFunc receives the outcome of one asynchronous write: the
// number of bytes written and the error, if any.
type CompletionFunc func(written int, err error)

// A Subscription is one read-readiness registration.  It is created
// suspended; no events flow until Resume is called.  Cancel is
// synchronous: once it returns, the callback will not fire again.
// Cancelling a subscription that was never resumed is a protocol
// error; consumers are expected to resume immediately after creation.
type Subscription interface {
	Resume()
	Cancel()
}

// A Reactor turns descriptor readiness into callbacks on serial
// queues, and owns the asynchronous write path.
//
// All callbacks for a registration are dispatched onto the queue it
// was registered with; two callbacks on the same queue never overlap.
// Write completions for one descriptor are delivered in submission
// order.
//
// *This object is thread-safe.*
type Reactor interface {
	// RegisterRead subscribes to "fd is readable" events.  At most one
	// read subscription may exist per descriptor.
	RegisterRead(fd int, queue *concurrent.Queue, fn ReadyFunc) (Subscription, error)

	// SubmitWrite queues an asynchronous write of p.  The reactor owns
	// p from this point on; fn fires exactly once, on queue, after the
	// write has fully completed or failed.  In-flight writes cannot be
	// cancelled.
	SubmitWrite(fd int, p []byte, queue *concurrent.Queue, fn CompletionFunc) error

	// Close stops the event loop.  Registrations and pending writes
	// become inert; their completions are not delivered.
	Close() error
}

func New(ctx common.Context) (Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, errors.Wrap(err, "Error starting poller")
	}

	r := &reactor{
		logger: ctx.Logger(),
		poller: p,
		fds:    make(map[int]*fdEntry),
		wait:   concurrent.NewWait(),
		closed: make(chan struct{}),
		closer: make(chan struct{}, 1)}

	r.wait.Inc()
	go r.loop()
	return r, nil
}

var defaultOnce sync.Once
var defaultReactor Reactor

// Default returns the process-wide reactor, starting it on first use.
// It lives for the remainder of the process.  Panics if the underlying
// readiness facility cannot be created; there is no useful recovery
// from that at this level.
func Default() Reactor {
	defaultOnce.Do(func() {
		r, err := New(common.NewDefaultContext())
		if err != nil {
			panic(errors.Wrap(err, "Error starting default reactor"))
		}
		defaultReactor = r
	})

	return defaultReactor
}

// An event is one readiness report from the platform poller.  avail is
// the byte estimate for readable events; -1 when the platform did not
// supply one.
type event struct {
	fd       int
	readable bool
	writable bool
	avail    int
}

// The poller is the only platform-specific piece: it arms absolute
// per-fd interest and blocks for readiness.  One implementation per
// platform; nothing above this interface branches on platform.
type poller interface {
	update(fd int, read bool, write bool) error
	wait(evs []event) (int, error)
	wake() error
	close() error
}

type fdEntry struct {
	fd     int
	read   *subscription
	writes *writeQueue
}

type reactor struct {
	logger common.Logger
	poller poller

	mu  sync.Mutex
	fds map[int]*fdEntry

	wait   concurrent.Wait
	closed chan struct{}
	closer chan struct{}
}

func (r *reactor) RegisterRead(fd int, queue *concurrent.Queue, fn ReadyFunc) (Subscription, error) {
	if queue == nil || fn == nil {
		return nil, BadSubmissionError
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() {
		return nil, ClosedError
	}

	e := r.entry(fd)
	if e.read != nil {
		return nil, errors.Wrapf(RegisteredError, "fd [%v]", fd)
	}

	sub := &subscription{reactor: r, fd: fd, queue: queue, fn: fn}
	e.read = sub

	// created suspended: interest is armed on Resume.
	return sub, nil
}

func (r *reactor) SubmitWrite(fd int, p []byte, queue *concurrent.Queue, fn CompletionFunc) error {
	if queue == nil || fn == nil {
		return BadSubmissionError
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() {
		return ClosedError
	}

	e := r.entry(fd)
	if e.writes == nil {
		e.writes = newWriteQueue()
	}

	if err := e.writes.push(&writeOp{data: p, queue: queue, fn: fn}); err != nil {
		return err
	}

	r.rearmLocked(e)
	return nil
}

func (r *reactor) Close() error {
	select {
	case <-r.closed:
		return ClosedError
	case r.closer <- struct{}{}:
	}

	close(r.closed)
	if err := r.poller.wake(); err != nil {
		r.logger.Error("Error waking poller for shutdown: %v", err)
	}

	<-r.wait.Wait()
	return r.poller.close()
}

func (r *reactor) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *reactor) entry(fd int) *fdEntry {
	e, ok := r.fds[fd]
	if !ok {
		e = &fdEntry{fd: fd}
		r.fds[fd] = e
	}

	return e
}

// rearmLocked recomputes the poller interest for an entry.  An entry
// with no subscription and no pending writes is dropped entirely, so
// descriptor numbers can be reused safely.  A suspended subscription
// arms no interest but still pins the entry until it is cancelled.
func (r *reactor) rearmLocked(e *fdEntry) {
	read := e.read != nil && e.read.armed()
	write := e.writes != nil && !e.writes.idle()

	if e.read == nil && !write {
		delete(r.fds, e.fd)
	}

	if err := r.poller.update(e.fd, read, write); err != nil {
		r.logger.Debug("Error updating interest [fd=%v]: %v", e.fd, err)
	}
}

func (r *reactor) loop() {
	defer r.wait.Dec()

	evs := make([]event, 128)
	for {
		n, err := r.poller.wait(evs)
		if r.isClosed() {
			return
		}
		if err != nil {
			r.logger.Error("Error waiting for readiness: %v", err)
			return
		}

		for i := 0; i < n; i++ {
			r.dispatch(evs[i])
		}
	}
}

func (r *reactor) dispatch(ev event) {
	r.mu.Lock()
	e := r.fds[ev.fd]
	if e == nil {
		r.mu.Unlock()
		return
	}

	sub := e.read
	writes := e.writes
	r.mu.Unlock()

	if ev.readable && sub != nil {
		avail := ev.avail
		if avail < 0 {
			avail = 0
		}
		sub.deliver(avail)
	}

	if ev.writable && writes != nil {
		r.drain(ev.fd, writes)
	}
}

// drain runs pending writes for one descriptor until the backlog is
// empty or the descriptor stops accepting bytes.  Only the loop
// goroutine calls this, so per-op progress needs no locking.
func (r *reactor) drain(fd int, writes *writeQueue) {
	for {
		op := writes.head()
		if op == nil {
			break
		}

		n, err := sendRaw(fd, op.data[op.written:])
		if err == errWouldBlock {
			return // interest stays armed; resumed on the next writable event
		}
		if err != nil {
			writes.pop()
			r.complete(op, op.written, err)
			continue
		}

		op.written += n
		if op.written >= len(op.data) {
			writes.pop()
			r.complete(op, op.written, nil)
		}
	}

	r.mu.Lock()
	if e := r.fds[fd]; e != nil {
		r.rearmLocked(e)
	}
	r.mu.Unlock()
}

// complete hands one write outcome to the submitter's queue.  The
// enqueue must not block: the loop goroutine is the only consumer of
// every backlog, so parking it on one full queue would starve every
// other descriptor.  A dropped completion wedges the submitter's write
// accounting; both full and closed queues are consumer bugs worth
// shouting about.
func (r *reactor) complete(op *writeOp, written int, err error) {
	if qerr := op.queue.TryEnqueue(func() {
		op.fn(written, err)
	}); qerr != nil {
		r.logger.Error("Dropping write completion [written=%v, err=%v]: %v", written, err, qerr)
	}
}

type subscription struct {
	reactor *reactor
	fd      int
	queue   *concurrent.Queue
	fn      ReadyFunc

	mu        sync.Mutex
	resumed   bool
	cancelled bool
}

func (s *subscription) Resume() {
	s.mu.Lock()
	if s.resumed || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.resumed = true
	s.mu.Unlock()

	s.reactor.mu.Lock()
	if e := s.reactor.fds[s.fd]; e != nil && e.read == s {
		s.reactor.rearmLocked(e)
	}
	s.reactor.mu.Unlock()
}

func (s *subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	if !s.resumed {
		s.reactor.logger.Error("Cancelling a subscription that was never resumed [fd=%v]", s.fd)
	}
	s.cancelled = true
	s.mu.Unlock()

	s.reactor.mu.Lock()
	if e := s.reactor.fds[s.fd]; e != nil && e.read == s {
		e.read = nil
		s.reactor.rearmLocked(e)
	}
	s.reactor.mu.Unlock()
}

func (s *subscription) armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed && !s.cancelled
}

// deliver hands one readiness event to the consumer's queue.  The
// cancelled flag is rechecked at execution time, which is what makes
// Cancel synchronous: a callback observed after Cancel returned would
// have seen the flag.
//
// The enqueue must not block the loop goroutine, so a full queue drops
// the event.  That is safe: readiness is level-triggered, and the
// poller re-reports the descriptor on the next wait.
func (s *subscription) deliver(avail int) {
	s.mu.Lock()
	if !s.resumed || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.queue.TryEnqueue(func() {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return
		}
		fn := s.fn
		s.mu.Unlock()

		fn(avail)
	}); err != nil {
		s.reactor.logger.Debug("Dropping readiness event [fd=%v]: %v", s.fd, err)
	}
}
