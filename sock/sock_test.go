package sock

import (
	"testing"
	"time"

	"github.com/mitsuse/swiftsockets/addr"
	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/concurrent"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// End-to-end over the loopback: a listener with an accept handler, a
// connecting client, and an echo through the asynchronous write path.

func recvSocket(t *testing.T, ch <-chan *ActiveSocket) *ActiveSocket {
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func recvString(t *testing.T, ch <-chan string) string {
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for data")
		return ""
	}
}

func TestClientServer_AcceptOnce(t *testing.T) {
	ctx := common.NewDefaultContext()

	queue := concurrent.NewQueue(64)
	defer queue.Close()

	server, err := NewPassiveSocket(ctx, addr.IPv4Loopback(0))
	assert.Nil(t, err)
	defer server.Close()

	accepted := make(chan *ActiveSocket, 4)
	assert.True(t, server.ListenWithHandler(queue, 5, func(conn *ActiveSocket) {
		accepted <- conn
	}))
	assert.True(t, server.Listening())

	port := addr.Port(server.LocalAddr())

	client, err := NewActiveSocket(ctx, unix.AF_INET)
	assert.Nil(t, err)
	defer client.Close()

	assert.True(t, client.Connect(addr.IPv4Loopback(port), nil))

	conn := recvSocket(t, accepted)
	defer conn.Close()

	assert.True(t, conn.Connected())
	assert.Equal(t, queue, conn.Queue())
	assert.Equal(t, client.LocalAddr(), conn.RemoteAddr())

	// exactly one accept for one connect
	select {
	case <-accepted:
		t.Fatal("accepted more connections than were made")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientServer_EchoRoundTrip(t *testing.T) {
	ctx := common.NewDefaultContext()

	serverQ := concurrent.NewQueue(64)
	defer serverQ.Close()
	clientQ := concurrent.NewQueue(64)
	defer clientQ.Close()

	server, err := NewPassiveSocket(ctx, addr.IPv4Loopback(0))
	assert.Nil(t, err)
	defer server.Close()

	accepted := make(chan *ActiveSocket, 1)
	assert.True(t, server.ListenWithHandler(serverQ, 5, func(conn *ActiveSocket) {
		conn.OnRead(func(c *ActiveSocket, avail int) {
			n, data, err := c.Read()
			if err != nil || n <= 0 {
				return
			}
			c.AsyncWrite(data)
		})
		accepted <- conn
	}))

	port := addr.Port(server.LocalAddr())

	client, err := NewActiveSocket(ctx, unix.AF_INET)
	assert.Nil(t, err)
	defer client.Close()
	client.SetQueue(clientQ)

	connected := make(chan struct{}, 1)
	assert.True(t, client.Connect(addr.IPv4Loopback(port), func(*ActiveSocket) {
		connected <- struct{}{}
	}))
	<-connected

	echoed := make(chan string, 1)
	client.OnRead(func(c *ActiveSocket, avail int) {
		n, data, err := c.Read()
		if err != nil || n <= 0 {
			return
		}
		echoed <- string(data)
	})

	assert.True(t, client.WriteString("hello"))
	assert.Equal(t, "hello", recvString(t, echoed))

	conn := recvSocket(t, accepted)
	conn.Close()
}

func TestClientServer_OnReadNil_StopsDelivery(t *testing.T) {
	ctx := common.NewDefaultContext()

	queue := concurrent.NewQueue(64)
	defer queue.Close()

	server, err := NewPassiveSocket(ctx, addr.IPv4Loopback(0))
	assert.Nil(t, err)
	defer server.Close()

	accepted := make(chan *ActiveSocket, 1)
	assert.True(t, server.ListenWithHandler(queue, 5, func(conn *ActiveSocket) {
		accepted <- conn
	}))

	port := addr.Port(server.LocalAddr())

	client, err := NewActiveSocket(ctx, unix.AF_INET)
	assert.Nil(t, err)
	defer client.Close()
	client.SetQueue(queue)
	assert.True(t, client.Connect(addr.IPv4Loopback(port), nil))

	conn := recvSocket(t, accepted)
	defer conn.Close()

	reads := make(chan int, 16)
	client.OnRead(func(c *ActiveSocket, avail int) {
		c.Read()
		reads <- avail
	})

	conn.AsyncWrite([]byte("one"))
	select {
	case <-reads:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for read event")
	}

	client.OnRead(nil)
	conn.AsyncWrite([]byte("two"))

	select {
	case <-reads:
		t.Fatal("read event delivered after the callback was cleared")
	case <-time.After(200 * time.Millisecond):
	}
}
