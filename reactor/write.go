package reactor

import (
	"sync"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/mitsuse/swiftsockets/fd"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Pending writes per descriptor.  Submissions past this fail with
// BacklogFullError rather than blocking the submitter.
var writeBacklogDepth = uint64(1024)

var errWouldBlock = errors.New("reactor: would block")

type writeOp struct {
	data    []byte
	queue   *concurrent.Queue
	fn      CompletionFunc
	written int
}

// A writeQueue is the per-descriptor write backlog: a FIFO ring of
// submitted ops plus the op currently being drained.  Producers push
// from arbitrary goroutines; only the reactor loop consumes.
type writeQueue struct {
	mu   sync.Mutex
	ring *queue.RingBuffer
	cur  *writeOp
}

func newWriteQueue() *writeQueue {
	return &writeQueue{ring: queue.NewRingBuffer(writeBacklogDepth)}
}

func (w *writeQueue) push(op *writeOp) error {
	ok, err := w.ring.Offer(op)
	if err != nil {
		return errors.Wrap(err, "Error queueing write")
	}
	if !ok {
		return BacklogFullError
	}

	return nil
}

// head returns the op to drain next, holding it as current until pop.
func (w *writeQueue) head() *writeOp {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur != nil {
		return w.cur
	}
	if w.ring.Len() == 0 {
		return nil
	}

	item, err := w.ring.Get()
	if err != nil {
		return nil
	}

	w.cur = item.(*writeOp)
	return w.cur
}

func (w *writeQueue) pop() {
	w.mu.Lock()
	w.cur = nil
	w.mu.Unlock()
}

func (w *writeQueue) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur == nil && w.ring.Len() == 0
}

func sendRaw(raw int, p []byte) (int, error) {
	n, err := fd.SendNoSignal(raw, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return n, errWouldBlock
	}

	return n, err
}
