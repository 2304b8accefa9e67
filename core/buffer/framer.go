// File: core/buffer/framer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental delimiter framing over a Queue. An Index carries the scan state
// between calls so that bytes arriving in later reads are scanned exactly once,
// and a delimiter split over any number of chunks is still found.

package buffer

import (
	"fmt"

	"github.com/momentics/hioload-nio/api"
)

// Position addresses a byte inside a Queue by chunk number and offset.
type Position struct {
	Chunk  int
	Offset int
}

// Index is the state of one delimiter search.
type Index struct {
	delim   []byte
	found   bool
	matched int // trailing scanned bytes equal to a delimiter prefix
	scanned int // bytes from the queue head examined so far
	touched int // bytes examined by the last call

	start, end       int
	startPos, endPos Position
}

// NewIndex creates a fresh index for delim.
func NewIndex(delim []byte) *Index {
	d := make([]byte, len(delim))
	copy(d, delim)
	return &Index{delim: d}
}

// Delimiter returns the delimiter bytes.
func (idx *Index) Delimiter() []byte { return idx.delim }

// Found reports whether the delimiter has been found.
func (idx *Index) Found() bool { return idx.found }

// MatchedPrefix returns how many trailing scanned bytes match a delimiter prefix.
func (idx *Index) MatchedPrefix() int { return idx.matched }

// ReadBytes returns the number of bytes scanned from the queue head.
func (idx *Index) ReadBytes() int { return idx.scanned }

// Touched returns how many bytes the last Find call examined.
func (idx *Index) Touched() int { return idx.touched }

// Start returns the byte offset of the delimiter start, or -1 if not found.
func (idx *Index) Start() int {
	if !idx.found {
		return -1
	}
	return idx.start
}

// End returns the byte offset just past the delimiter, or -1 if not found.
func (idx *Index) End() int {
	if !idx.found {
		return -1
	}
	return idx.end
}

// StartPosition returns chunk and offset of the first delimiter byte.
func (idx *Index) StartPosition() Position { return idx.startPos }

// EndPosition returns chunk and offset of the last delimiter byte.
func (idx *Index) EndPosition() Position { return idx.endPos }

// Available returns the number of bytes that can be consumed without
// touching the delimiter or a possible delimiter prefix.
func (idx *Index) Available() int {
	if idx.found {
		return idx.start
	}
	return idx.scanned - idx.matched
}

// Reset clears the scan state, keeping the delimiter.
func (idx *Index) Reset() {
	*idx = Index{delim: idx.delim}
}

func (idx *Index) String() string {
	if idx.found {
		return fmt.Sprintf("index{found start=%d end=%d}", idx.start, idx.end)
	}
	return fmt.Sprintf("index{scanned=%d matched=%d}", idx.scanned, idx.matched)
}

// Find scans q from the first byte.
func Find(q *Queue, delim []byte) *Index {
	return FindFrom(q, NewIndex(delim))
}

// FindFrom continues a search. Only bytes appended since the previous call
// are examined; a found index is returned unchanged.
func FindFrom(q *Queue, idx *Index) *Index {
	idx.touched = 0
	if idx.found || len(idx.delim) == 0 || idx.scanned >= q.size {
		return idx
	}

	pos := 0
	for ci := 0; ci < len(q.chunks) && !idx.found; ci++ {
		c := q.chunks[ci]
		if pos+len(c) <= idx.scanned {
			pos += len(c)
			continue
		}
		for off := idx.scanned - pos; off < len(c); off++ {
			idx.step(c[off])
			idx.scanned++
			idx.touched++
			if idx.found {
				idx.end = idx.scanned
				idx.start = idx.end - len(idx.delim)
				idx.endPos = Position{Chunk: ci, Offset: off}
				idx.startPos = q.locate(idx.start)
				break
			}
		}
		pos += len(c)
	}
	return idx
}

// FindMax behaves like FindFrom but fails with api.ErrMaxScanLengthExceeded
// once more than maxLen bytes precede the delimiter or have been scanned
// without finding it. maxLen <= 0 disables the check. A nil idx starts a
// fresh search for delim.
func FindMax(q *Queue, delim []byte, idx *Index, maxLen int) (*Index, error) {
	if len(delim) == 0 {
		return nil, fmt.Errorf("empty delimiter: %w", api.ErrInvalidArgument)
	}
	if idx == nil {
		idx = NewIndex(delim)
	}
	FindFrom(q, idx)
	if maxLen > 0 && idx.Available() > maxLen {
		return idx, api.NewError(api.ErrCodeMaxScanLengthExceeded, "delimiter not found within max length").
			WithContext("max", maxLen).
			WithContext("scanned", idx.scanned)
	}
	return idx, nil
}

// step advances the prefix automaton by one byte. On mismatch it restarts at
// 1 if b opens a new delimiter, else at 0. Delimiters are short, so this
// naive matcher is sufficient.
func (idx *Index) step(b byte) {
	if b == idx.delim[idx.matched] {
		idx.matched++
	} else if b == idx.delim[0] {
		idx.matched = 1
	} else {
		idx.matched = 0
	}
	if idx.matched == len(idx.delim) {
		idx.found = true
	}
}

// locate maps an absolute byte offset to chunk and offset.
func (q *Queue) locate(abs int) Position {
	pos := 0
	for ci, c := range q.chunks {
		if abs < pos+len(c) {
			return Position{Chunk: ci, Offset: abs - pos}
		}
		pos += len(c)
	}
	return Position{Chunk: len(q.chunks), Offset: 0}
}

// Extract removes the record before the delimiter from q and returns it as
// slices of the original chunks, discarding the delimiter. Bytes after the
// delimiter stay queued. The index is reset for the next record.
func Extract(q *Queue, idx *Index) ([][]byte, error) {
	if !idx.found {
		return nil, api.ErrDelimiterNotFound
	}
	record := q.DrainN(idx.start)
	q.Discard(len(idx.delim))
	idx.Reset()
	if record == nil {
		record = [][]byte{}
	}
	return record, nil
}

// ExtractAvailable removes every scanned byte that cannot belong to the
// delimiter. For a found index it is Extract. Otherwise it stops
// MatchedPrefix bytes before the scanned end and rebases idx, so a later
// FindFrom produces the same split as a single complete arrival would.
func ExtractAvailable(q *Queue, idx *Index) [][]byte {
	if idx.found {
		record, _ := Extract(q, idx)
		return record
	}
	n := idx.scanned - idx.matched
	if n <= 0 {
		return [][]byte{}
	}
	out := q.DrainN(n)
	idx.scanned -= n
	return out
}

// ExtractN removes exactly n bytes from q, or fails with
// api.ErrBufferUnderflow leaving q untouched.
func ExtractN(q *Queue, n int) ([][]byte, error) {
	if n < 0 {
		return nil, api.ErrInvalidArgument
	}
	if q.size < n {
		return nil, api.ErrBufferUnderflow
	}
	out := q.DrainN(n)
	if out == nil {
		out = [][]byte{}
	}
	return out, nil
}
