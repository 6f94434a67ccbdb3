package sock

import (
	"fmt"
	"sync"

	"github.com/mitsuse/swiftsockets/addr"
	"github.com/mitsuse/swiftsockets/common"
	"github.com/mitsuse/swiftsockets/fd"
	uuid "github.com/satori/go.uuid"
	"golang.org/x/sys/unix"
)

// ClosedError is returned by operations invoked on a socket whose
// descriptor has been released.  It carries the bad-descriptor code so
// callers that check numeric codes keep working.
type ClosedError struct{}

func (c ClosedError) Error() string {
	return fmt.Sprintf("SOCK:CLOSED(%v)", unix.EBADF)
}

func (c ClosedError) Errno() unix.Errno {
	return unix.EBADF
}

var ErrClosed = ClosedError{}

// A Socket owns one descriptor plus the state every socket flavor
// shares: the bound local address, the broken-pipe signalling flag and
// validity.  Validity is monotonic: once a socket has been torn down it
// never becomes valid again.
//
// Lifecycle state is guarded by the embedded mutex; event callbacks
// themselves run serialized on the socket's queue.
type Socket struct {
	mu sync.Mutex

	id     uuid.UUID
	ctx    common.Context
	conf   common.Config
	log    common.Logger
	strict bool

	desc       *fd.Descriptor
	local      addr.Addr
	sigpipeOff bool
	valid      bool
}

func newSocket(ctx common.Context, desc *fd.Descriptor) Socket {
	id := uuid.NewV1()
	return Socket{
		id:     id,
		ctx:    ctx,
		conf:   ctx.Config(),
		log:    common.FormatLogger(ctx.Logger(), "sock(%v)", id),
		strict: ctx.Config().OptionalBool(common.ConfStrictAsserts, false),
		desc:   desc,
		valid:  desc.Valid()}
}

func (s *Socket) Id() uuid.UUID {
	return s.id
}

func (s *Socket) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// LocalAddr returns the bound local address, querying the OS on first
// use.  Nil when the socket is unbound or already closed.
func (s *Socket) LocalAddr() addr.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localLocked()
}

func (s *Socket) localLocked() addr.Addr {
	if s.local != nil {
		return s.local
	}
	if !s.valid {
		return nil
	}

	sa, err := s.desc.Sockname()
	if err != nil {
		s.log.Debug("Error querying local address: %v", err)
		return nil
	}

	s.local = addr.FromSockaddr(sa)
	return s.local
}

// DisableSIGPIPE stops broken-pipe writes from signalling the process;
// the error is delivered through the write's return instead.
func (s *Socket) DisableSIGPIPE() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return ErrClosed
	}
	if s.sigpipeOff {
		return nil
	}

	if err := s.desc.DisableSIGPIPE(); err != nil {
		return err
	}

	s.sigpipeOff = true
	return nil
}

// Close releases the descriptor.  Subclass flavors layer their own
// teardown in front of this; the base contract is simply idempotent
// release.
func (s *Socket) Close() error {
	return s.release()
}

// release marks the socket invalid and closes the descriptor.  Exactly
// one caller reaches the OS; every later call is a no-op.
func (s *Socket) release() error {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return nil
	}

	s.valid = false
	desc := s.desc
	s.mu.Unlock()

	s.log.Debug("Releasing descriptor [%v]", desc.Raw())
	return desc.Close()
}

// assertf reports a caller bug.  These are precondition violations,
// not runtime conditions: they always log at error level, and panic
// when strict asserts are configured.
func (s *Socket) assertf(format string, args ...interface{}) {
	s.log.Error(format, args...)
	if s.strict {
		panic(fmt.Sprintf(format, args...))
	}
}
