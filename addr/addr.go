package addr

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var UnsupportedFamilyError = errors.New("ADDR:UNSUPPORTED:FAMILY")

// An Addr names one network endpoint: the address family it lives in
// plus the family-specific payload.  Implementations are small value
// types, so two addrs compare equal with == iff they name the same
// endpoint.
type Addr interface {
	fmt.Stringer

	// Domain is the address family selector passed to socket(2).
	Domain() int

	// Len is the wire length of the raw sockaddr representation.
	Len() uint32

	// Sockaddr converts to the representation the syscalls take.
	Sockaddr() unix.Sockaddr
}

// NewIPv4 parses a dotted-quad host.  No name resolution is performed;
// anything that is not a literal IPv4 address is rejected.
func NewIPv4(host string, port int) (Addr, error) {
	if host == "" {
		return IPv4Any(port), nil
	}

	parsed := net.ParseIP(host)
	if parsed == nil || parsed.To4() == nil {
		return nil, errors.Wrapf(UnsupportedFamilyError, "Not an IPv4 literal [%v]", host)
	}

	var ip [4]byte
	copy(ip[:], parsed.To4())
	return ipv4{ip, port}, nil
}

// IPv4Any is the wildcard address on the given port.
func IPv4Any(port int) Addr {
	return ipv4{[4]byte{}, port}
}

// IPv4Loopback is 127.0.0.1 on the given port.
func IPv4Loopback(port int) Addr {
	return ipv4{[4]byte{127, 0, 0, 1}, port}
}

// NewIPv6 parses a literal IPv6 host.  No name resolution.
func NewIPv6(host string, port int) (Addr, error) {
	if host == "" {
		return ipv6{[16]byte{}, port}, nil
	}

	parsed := net.ParseIP(host)
	if parsed == nil || parsed.To16() == nil || parsed.To4() != nil {
		return nil, errors.Wrapf(UnsupportedFamilyError, "Not an IPv6 literal [%v]", host)
	}

	var ip [16]byte
	copy(ip[:], parsed.To16())
	return ipv6{ip, port}, nil
}

// NewUnix names a unix-domain stream endpoint by filesystem path.
func NewUnix(path string) Addr {
	return unixAddr{path}
}

// FromSockaddr converts a raw sockaddr, as returned by accept(2) or
// getsockname(2), back into an Addr.  Unknown families return nil.
func FromSockaddr(sa unix.Sockaddr) Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return ipv4{sa.Addr, sa.Port}
	case *unix.SockaddrInet6:
		return ipv6{sa.Addr, sa.Port}
	case *unix.SockaddrUnix:
		return unixAddr{sa.Name}
	default:
		return nil
	}
}

// Port extracts the port of an IP addr, or -1 for non-IP families.
func Port(a Addr) int {
	switch a := a.(type) {
	case ipv4:
		return a.port
	case ipv6:
		return a.port
	default:
		return -1
	}
}

type ipv4 struct {
	ip   [4]byte
	port int
}

func (a ipv4) Domain() int {
	return unix.AF_INET
}

func (a ipv4) Len() uint32 {
	return unix.SizeofSockaddrInet4
}

func (a ipv4) Sockaddr() unix.Sockaddr {
	return &unix.SockaddrInet4{Port: a.port, Addr: a.ip}
}

func (a ipv4) String() string {
	return fmt.Sprintf("%v:%v", net.IP(a.ip[:]).String(), a.port)
}

type ipv6 struct {
	ip   [16]byte
	port int
}

func (a ipv6) Domain() int {
	return unix.AF_INET6
}

func (a ipv6) Len() uint32 {
	return unix.SizeofSockaddrInet6
}

func (a ipv6) Sockaddr() unix.Sockaddr {
	return &unix.SockaddrInet6{Port: a.port, Addr: a.ip}
}

func (a ipv6) String() string {
	return fmt.Sprintf("[%v]:%v", net.IP(a.ip[:]).String(), a.port)
}

type unixAddr struct {
	path string
}

func (a unixAddr) Domain() int {
	return unix.AF_UNIX
}

func (a unixAddr) Len() uint32 {
	return unix.SizeofSockaddrUnix
}

func (a unixAddr) Sockaddr() unix.Sockaddr {
	return &unix.SockaddrUnix{Name: a.path}
}

func (a unixAddr) String() string {
	return fmt.Sprintf("unix(%v)", a.path)
}
