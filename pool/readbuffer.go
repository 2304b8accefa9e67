// File: pool/readbuffer.go
// Author: momentics <momentics@gmail.com>
//
// Preallocated read memory for one dispatcher. A large slab is read into
// repeatedly; each read hands the filled prefix to the connection and keeps
// the unused suffix for the next read, so small reads share one allocation.

package pool

const (
	DefaultPreallocationSize = 16 * 1024
	DefaultMinBufferSize     = 64
)

// ReadBuffer is owned by a single dispatcher goroutine; not goroutine-safe.
type ReadBuffer struct {
	preallocSize int
	minSize      int
	free         []byte

	allocated int64
}

// NewReadBuffer creates a read buffer allocating slabs of preallocSize bytes
// and discarding remainders smaller than minSize.
func NewReadBuffer(preallocSize, minSize int) *ReadBuffer {
	if preallocSize <= 0 {
		preallocSize = DefaultPreallocationSize
	}
	if minSize <= 0 {
		minSize = DefaultMinBufferSize
	}
	if minSize > preallocSize {
		minSize = preallocSize
	}
	return &ReadBuffer{preallocSize: preallocSize, minSize: minSize}
}

// Acquire returns memory to read into. The caller must pass the result of
// the read to Extract.
func (r *ReadBuffer) Acquire() []byte {
	if len(r.free) >= r.minSize {
		buf := r.free
		r.free = nil
		return buf
	}
	r.free = nil
	r.allocated += int64(r.preallocSize)
	return make([]byte, r.preallocSize)
}

// Extract returns the first n bytes of buf as an independent chunk with
// capped capacity and keeps the rest for the next Acquire.
func (r *ReadBuffer) Extract(buf []byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	if rest := buf[n:]; len(rest) >= r.minSize {
		r.free = rest
	}
	if n == 0 {
		return nil
	}
	return buf[:n:n]
}

// Remaining returns the size of the retained suffix.
func (r *ReadBuffer) Remaining() int { return len(r.free) }

// Allocated returns the total bytes allocated for slabs.
func (r *ReadBuffer) Allocated() int64 { return r.allocated }

// PreallocationSize returns the slab size.
func (r *ReadBuffer) PreallocationSize() int { return r.preallocSize }
