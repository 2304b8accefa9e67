// File: core/buffer/queue.go
// Package buffer holds the chunked byte queue shared by the read and write
// paths of a connection, and the incremental delimiter framer on top of it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Queue is designed for single-goroutine use; no locks for minimal overhead.
// Chunks are stored by reference, so callers hand over ownership on Append.

package buffer

// Queue is an ordered sequence of byte chunks.
type Queue struct {
	chunks [][]byte
	size   int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Append adds chunk at the tail. Empty chunks are ignored.
func (q *Queue) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	q.chunks = append(q.chunks, chunk)
	q.size += len(chunk)
}

// AppendAll adds every chunk at the tail, preserving order.
func (q *Queue) AppendAll(chunks [][]byte) {
	for _, c := range chunks {
		q.Append(c)
	}
}

// AppendFirst puts chunks back at the head, preserving their order.
func (q *Queue) AppendFirst(chunks ...[]byte) {
	head := make([][]byte, 0, len(chunks)+len(q.chunks))
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		head = append(head, c)
		q.size += len(c)
	}
	q.chunks = append(head, q.chunks...)
}

// Drain removes and returns all chunks.
func (q *Queue) Drain() [][]byte {
	out := q.chunks
	q.chunks = nil
	q.size = 0
	return out
}

// DrainN removes and returns up to max bytes, splitting the last chunk if
// necessary. The split is a reslice; no bytes are copied.
func (q *Queue) DrainN(max int) [][]byte {
	if max <= 0 || q.size == 0 {
		return nil
	}
	if max >= q.size {
		return q.Drain()
	}
	var out [][]byte
	remaining := max
	i := 0
	for ; i < len(q.chunks) && remaining > 0; i++ {
		c := q.chunks[i]
		if len(c) <= remaining {
			out = append(out, c)
			remaining -= len(c)
			continue
		}
		out = append(out, c[:remaining:remaining])
		q.chunks[i] = c[remaining:]
		remaining = 0
		break
	}
	q.chunks = q.chunks[i:]
	q.size -= max
	return out
}

// Discard drops up to n bytes from the head and returns how many were dropped.
func (q *Queue) Discard(n int) int {
	dropped := 0
	for _, c := range q.DrainN(n) {
		dropped += len(c)
	}
	return dropped
}

// Size returns the total number of remaining bytes.
func (q *Queue) Size() int {
	return q.size
}

// IsEmpty reports whether no bytes remain.
func (q *Queue) IsEmpty() bool {
	return q.size == 0
}

// Len returns the number of chunks.
func (q *Queue) Len() int {
	return len(q.chunks)
}

// Chunk returns the i-th chunk. The slice must not be modified.
func (q *Queue) Chunk(i int) []byte {
	return q.chunks[i]
}

// Bytes returns a copy of all remaining bytes without consuming them.
func (q *Queue) Bytes() []byte {
	return Join(q.chunks)
}

// Join copies chunks into one contiguous slice.
func Join(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
