package concurrent

import (
	"errors"
	"sync"
)

var (
	QueueClosedError = errors.New("QUEUE:CLOSED")
	QueueFullError   = errors.New("QUEUE:FULL")
)

// The default depth of a queue's submission channel.  Submissions past
// this block the caller until the queue drains.
var defaultQueueDepth = 256

// A Queue is a serial execution context.  Functions submitted to a
// queue run one at a time, in submission order, on a single dedicated
// goroutine.  Two functions submitted to the same queue never run
// concurrently with each other.
//
// This is the execution model the reactor dispatches socket callbacks
// on: as long as all of a socket's callbacks land on the same queue,
// they are totally ordered.
//
// *This object is thread-safe.*
type Queue struct {
	work   chan func()
	closed chan struct{}
	closer chan struct{}
}

func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	q := &Queue{
		work:   make(chan func(), depth),
		closed: make(chan struct{}),
		closer: make(chan struct{}, 1)}

	go q.loop()
	return q
}

func (q *Queue) loop() {
	for {
		select {
		case <-q.closed:
			return
		case fn := <-q.work:
			fn()
		}
	}
}

// Enqueue submits fn for serialized execution.  Blocks while the
// submission channel is full.  Returns QueueClosedError once the queue
// has been closed; fn is dropped in that case.
func (q *Queue) Enqueue(fn func()) error {
	select {
	case <-q.closed:
		return QueueClosedError
	case q.work <- fn:
		return nil
	}
}

// TryEnqueue submits fn without ever blocking the caller.  Returns
// QueueFullError when the submission channel is full; fn is dropped in
// that case.  This is the submission path for callers that cannot
// afford to stall on a slow consumer, such as a shared event loop.
func (q *Queue) TryEnqueue(fn func()) error {
	select {
	case <-q.closed:
		return QueueClosedError
	case q.work <- fn:
		return nil
	default:
		return QueueFullError
	}
}

// Sync submits fn and waits for it to run.  Useful for tests and for
// callers that need a happens-after edge with everything previously
// submitted.
func (q *Queue) Sync(fn func()) error {
	done := make(chan struct{})
	if err := q.Enqueue(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}

	<-done
	return nil
}

// Close stops the queue.  Functions already running complete; functions
// still buffered are dropped.  Never call Close from the queue's own
// goroutine and then wait on it.
func (q *Queue) Close() error {
	select {
	case <-q.closed:
		return QueueClosedError
	case q.closer <- struct{}{}:
	}

	close(q.closed)
	return nil
}

var defaultQueueOnce sync.Once
var defaultQueue *Queue

// DefaultQueue returns the process-wide fallback queue.  It is started
// on first use and lives for the remainder of the process; it is the
// queue sockets fall back to when none was configured.  Components that
// care about queue lifetime should pass their own queue instead.
func DefaultQueue() *Queue {
	defaultQueueOnce.Do(func() {
		defaultQueue = NewQueue(defaultQueueDepth)
	})

	return defaultQueue
}
