package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIPv4_Parse(t *testing.T) {
	a, err := NewIPv4("192.168.1.7", 8080)
	assert.Nil(t, err)
	assert.Equal(t, unix.AF_INET, a.Domain())
	assert.Equal(t, "192.168.1.7:8080", a.String())
	assert.Equal(t, 8080, Port(a))
}

func TestIPv4_ParseRejectsHostname(t *testing.T) {
	a, err := NewIPv4("localhost", 8080)
	assert.Nil(t, a)
	assert.NotNil(t, err)
}

func TestIPv4_Equality(t *testing.T) {
	a1 := IPv4Loopback(9000)
	a2, err := NewIPv4("127.0.0.1", 9000)
	assert.Nil(t, err)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, IPv4Loopback(9001))
}

func TestIPv4_SockaddrRoundTrip(t *testing.T) {
	a := IPv4Loopback(9000)
	assert.Equal(t, a, FromSockaddr(a.Sockaddr()))
}

func TestIPv6_Parse(t *testing.T) {
	a, err := NewIPv6("::1", 9000)
	assert.Nil(t, err)
	assert.Equal(t, unix.AF_INET6, a.Domain())
	assert.Equal(t, a, FromSockaddr(a.Sockaddr()))
}

func TestUnix_RoundTrip(t *testing.T) {
	a := NewUnix("/tmp/sock.test")
	assert.Equal(t, unix.AF_UNIX, a.Domain())
	assert.Equal(t, a, FromSockaddr(a.Sockaddr()))
	assert.Equal(t, -1, Port(a))
}

func TestAddr_Len(t *testing.T) {
	assert.Equal(t, uint32(unix.SizeofSockaddrInet4), IPv4Any(0).Len())
	assert.Equal(t, uint32(unix.SizeofSockaddrUnix), NewUnix("/tmp/x").Len())
}
