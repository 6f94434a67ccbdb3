package sock

import (
	"sync"
	"testing"

	"github.com/mitsuse/swiftsockets/addr"
	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/mitsuse/swiftsockets/fd"
	"github.com/mitsuse/swiftsockets/reactor"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// A scripted reactor: registrations and submissions are recorded, and
// tests drive completions by hand.
type fakeReactor struct {
	mu     sync.Mutex
	subs   []*fakeSub
	writes []fakeWrite
}

type fakeSub struct {
	resumed   bool
	cancelled bool
}

func (s *fakeSub) Resume() {
	s.resumed = true
}

func (s *fakeSub) Cancel() {
	s.cancelled = true
}

type fakeWrite struct {
	data []byte
	fn   reactor.CompletionFunc
}

func (r *fakeReactor) RegisterRead(fd int, queue *concurrent.Queue, fn reactor.ReadyFunc) (reactor.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &fakeSub{}
	r.subs = append(r.subs, sub)
	return sub, nil
}

func (r *fakeReactor) SubmitWrite(fd int, p []byte, queue *concurrent.Queue, fn reactor.CompletionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writes = append(r.writes, fakeWrite{p, fn})
	return nil
}

func (r *fakeReactor) Close() error {
	return nil
}

func (r *fakeReactor) complete(i int, err error) {
	r.mu.Lock()
	w := r.writes[i]
	r.mu.Unlock()

	w.fn(len(w.data), err)
}

func newFakeSocket(t *testing.T) (*ActiveSocket, *fd.Descriptor, *fakeReactor) {
	left, right, err := fd.Pair()
	assert.Nil(t, err)

	engine := &fakeReactor{}
	s := newActiveSocket(common.NewDefaultContext(), left, nil, concurrent.NewQueue(16))
	s.engine = engine
	return s, right, engine
}

func TestActiveSocket_Close_Idempotent(t *testing.T) {
	s, peer, _ := newFakeSocket(t)
	defer peer.Close()

	assert.True(t, s.Valid())
	assert.Nil(t, s.Close())
	assert.False(t, s.Valid())
	assert.Nil(t, s.Close())
	assert.False(t, s.Valid())
}

func TestActiveSocket_Read_AfterClose(t *testing.T) {
	s, peer, _ := newFakeSocket(t)
	defer peer.Close()

	s.Close()

	n, view, err := s.Read()
	assert.Equal(t, -1, n)
	assert.Nil(t, view)
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, unix.EBADF, err.(ClosedError).Errno())
}

func TestActiveSocket_Read_ZeroTerminates(t *testing.T) {
	s, peer, _ := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	peer.Write([]byte("abc"))

	n, view, err := s.Read()
	assert.Nil(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(view))
	assert.Equal(t, byte(0), s.buf.data[3])
}

func TestActiveSocket_CloseDefersTeardown(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, s.AsyncWrite([]byte("payload")))
	}
	assert.Equal(t, 3, s.PendingWrites())

	assert.Nil(t, s.Close())
	assert.True(t, s.Valid()) // descriptor held open while writes drain

	engine.complete(0, nil)
	engine.complete(1, nil)
	assert.True(t, s.Valid())

	engine.complete(2, nil)
	assert.False(t, s.Valid())
	assert.Equal(t, 0, s.PendingWrites())
}

func TestActiveSocket_WriteAfterCloseRequested(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()

	assert.True(t, s.AsyncWrite([]byte("x")))
	assert.Nil(t, s.Close())

	assert.False(t, s.CanWrite())
	assert.False(t, s.AsyncWrite([]byte("y")))

	engine.complete(0, nil)
	assert.False(t, s.Valid())
}

func TestActiveSocket_CompletionErrorStillDrains(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()

	assert.True(t, s.AsyncWrite([]byte("x")))
	assert.Nil(t, s.Close())

	engine.complete(0, unix.EPIPE)
	assert.False(t, s.Valid())
}

func TestActiveSocket_ZeroLengthWrite(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	assert.True(t, s.AsyncWrite(nil))
	assert.True(t, s.WriteString(""))
	assert.Equal(t, 0, s.PendingWrites())
	assert.Equal(t, 0, len(engine.writes))
}

func TestActiveSocket_AsyncWrite_Snapshots(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	payload := []byte("abc")
	assert.True(t, s.AsyncWrite(payload))

	payload[0] = 'z'
	assert.Equal(t, "abc", string(engine.writes[0].data))

	engine.complete(0, nil)
}

func TestActiveSocket_OnRead_StartsAndStops(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	s.OnRead(func(*ActiveSocket, int) {})
	assert.Equal(t, 1, len(engine.subs))
	assert.True(t, engine.subs[0].resumed)
	assert.False(t, engine.subs[0].cancelled)

	// reinstall while subscribed: no second registration
	s.OnRead(func(*ActiveSocket, int) {})
	assert.Equal(t, 1, len(engine.subs))

	s.OnRead(nil)
	assert.True(t, engine.subs[0].cancelled)
	assert.Nil(t, s.readFn)
}

func TestActiveSocket_OnRead_Fluent(t *testing.T) {
	s, peer, _ := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	assert.Equal(t, s, s.OnRead(func(*ActiveSocket, int) {}))
	assert.Equal(t, s, s.OnRead(nil))
}

func TestActiveSocket_Close_CancelsSubscription(t *testing.T) {
	s, peer, engine := newFakeSocket(t)
	defer peer.Close()

	s.OnRead(func(*ActiveSocket, int) {})
	s.Close()

	assert.True(t, engine.subs[0].cancelled)
	assert.Nil(t, s.readFn)
}

func TestActiveSocket_DefaultQueueFallback(t *testing.T) {
	left, right, err := fd.Pair()
	assert.Nil(t, err)
	defer right.Close()

	engine := &fakeReactor{}
	s := newActiveSocket(common.NewDefaultContext(), left, nil, nil)
	s.engine = engine
	defer s.Close()

	assert.Nil(t, s.Queue())
	assert.True(t, s.AsyncWrite([]byte("x")))
	assert.Equal(t, concurrent.DefaultQueue(), s.Queue())

	engine.complete(0, nil)
}

func TestActiveSocket_Connect_Unreachable(t *testing.T) {
	s, err := NewActiveSocket(common.NewDefaultContext(), unix.AF_INET)
	assert.Nil(t, err)
	defer s.Close()

	called := false
	ok := s.Connect(addr.IPv4Loopback(1), func(*ActiveSocket) {
		called = true
	})

	assert.False(t, ok)
	assert.False(t, called)
	assert.Nil(t, s.RemoteAddr())
	assert.False(t, s.Connected())
}

func TestActiveSocket_Send_Synchronous(t *testing.T) {
	s, peer, _ := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	n, err := s.Send([]byte("direct"))
	assert.Nil(t, err)
	assert.Equal(t, 6, n)

	buf := make([]byte, 16)
	n, err = peer.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, "direct", string(buf[:n]))
}

func TestActiveSocket_ResizeReadBuffer(t *testing.T) {
	s, peer, _ := newFakeSocket(t)
	defer peer.Close()
	defer s.Close()

	assert.Equal(t, defaultReadBufferSize, s.ReadBufferSize())
	s.ResizeReadBuffer(128)
	assert.Equal(t, 128, s.ReadBufferSize())
}
