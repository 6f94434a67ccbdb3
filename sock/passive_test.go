package sock

import (
	"testing"

	"github.com/mitsuse/swiftsockets/addr"
	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func newTestListener(t *testing.T) *PassiveSocket {
	s, err := NewPassiveSocket(common.NewDefaultContext(), addr.IPv4Loopback(0))
	assert.Nil(t, err)
	return s
}

func dialListener(t *testing.T, s *PassiveSocket) *ActiveSocket {
	port := addr.Port(s.LocalAddr())
	assert.True(t, port > 0)

	client, err := NewActiveSocket(common.NewDefaultContext(), unix.AF_INET)
	assert.Nil(t, err)
	assert.True(t, client.Connect(addr.IPv4Loopback(port), nil))
	return client
}

func TestPassiveSocket_BindAssignsLocalAddr(t *testing.T) {
	s := newTestListener(t)
	defer s.Close()

	local := s.LocalAddr()
	assert.NotNil(t, local)
	assert.True(t, addr.Port(local) > 0)
}

func TestPassiveSocket_BindFailure_NoInstance(t *testing.T) {
	first := newTestListener(t)
	defer first.Close()
	assert.True(t, first.Listen(5))

	// the ephemeral port is taken; a second bind must fail cleanly
	taken := addr.Port(first.LocalAddr())
	second, err := NewPassiveSocket(common.NewDefaultContext(), addr.IPv4Loopback(taken))
	if err == nil {
		// SO_REUSEADDR may permit the bind on some systems; nothing
		// to assert in that case beyond cleanup.
		second.Close()
		return
	}
	assert.Nil(t, second)
}

func TestPassiveSocket_Listen_Twice(t *testing.T) {
	s := newTestListener(t)
	defer s.Close()

	assert.False(t, s.Listening())
	assert.Equal(t, -1, s.Backlog())

	assert.True(t, s.Listen(5))
	assert.True(t, s.Listening())
	assert.Equal(t, 5, s.Backlog())

	// already listening: no-op success, backlog unchanged
	assert.True(t, s.Listen(50))
	assert.Equal(t, 5, s.Backlog())
}

func TestPassiveSocket_Listen_AfterClose(t *testing.T) {
	s := newTestListener(t)
	s.Close()
	assert.False(t, s.Listen(5))
}

func TestPassiveSocket_Close_Idempotent(t *testing.T) {
	s := newTestListener(t)
	assert.Nil(t, s.Close())
	assert.False(t, s.Valid())
	assert.Nil(t, s.Close())
}

func TestPassiveSocket_CloseRacingListenWithHandler(t *testing.T) {
	// whichever side wins, the accept subscription must not survive a
	// completed Close: no handler fires once both calls have returned.
	for i := 0; i < 20; i++ {
		s := newTestListener(t)
		queue := concurrent.NewQueue(16)

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Close()
		}()

		s.ListenWithHandler(queue, 5, func(conn *ActiveSocket) {
			conn.Close()
		})

		<-done
		s.Close()
		assert.False(t, s.Valid())
		queue.Close()
	}
}

func TestPassiveSocket_AcceptDrainsExactlyPending(t *testing.T) {
	s := newTestListener(t)
	defer s.Close()
	assert.True(t, s.Listen(5))

	clients := make([]*ActiveSocket, 0, 3)
	for i := 0; i < 3; i++ {
		clients = append(clients, dialListener(t, s))
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	// drive the drain loop directly: three pending connections yield
	// exactly three sockets, then the loop stops on would-block.
	accepted := make([]*ActiveSocket, 0, 3)
	s.acceptPending(func(conn *ActiveSocket) {
		accepted = append(accepted, conn)
	})

	assert.Equal(t, 3, len(accepted))
	assert.Equal(t, int64(3), s.stats.accepted.Count())
	for _, conn := range accepted {
		assert.True(t, conn.Connected())
		assert.NotNil(t, conn.RemoteAddr())
		conn.Close()
	}

	// nothing pending: the loop yields nothing
	s.acceptPending(func(conn *ActiveSocket) {
		t.Fatal("accepted a connection that does not exist")
	})
}
