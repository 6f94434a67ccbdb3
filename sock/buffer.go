package sock

// Bytes reserved past the data region so a read can always be
// zero-terminated.
const readBufferMargin = 2

var defaultReadBufferSize = 4096

// A readBuffer is the byte arena an active socket reads into.  It is
// exclusively owned by its socket and never escapes except as the
// bounded view Read returns.  Resizing swaps the backing storage; a
// resize to the current size leaves the allocation untouched.
type readBuffer struct {
	data []byte
	size int
}

func newReadBuffer(size int) *readBuffer {
	b := &readBuffer{}
	b.resize(size)
	return b
}

func (b *readBuffer) resize(size int) {
	if size == b.size && b.data != nil {
		return
	}

	b.data = make([]byte, size+readBufferMargin)
	b.size = size
}

func (b *readBuffer) capacity() int {
	return b.size
}

// slot is the writable region a read fills, bounded by capacity.
func (b *readBuffer) slot() []byte {
	return b.data[:b.size]
}

// terminate zeroes the byte just past n bytes of data.
func (b *readBuffer) terminate(n int) {
	b.data[n] = 0
}

// view returns the first n bytes, capped so appends cannot reach into
// the arena.
func (b *readBuffer) view(n int) []byte {
	return b.data[:n:n]
}
