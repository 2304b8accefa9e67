// File: core/buffer/queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_AppendFirstKeepsOrder(t *testing.T) {
	q := queueOf("cd", "ef")
	q.AppendFirst([]byte("a"), nil, []byte("b"))
	assert.Equal(t, "abcdef", string(q.Bytes()))
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, 6, q.Size())
	assert.Equal(t, "a", string(q.Chunk(0)))
}

func TestQueue_DrainNSplitsChunk(t *testing.T) {
	q := queueOf("hello", "world")

	out := q.DrainN(7)
	assert.Equal(t, "hellowo", string(Join(out)))
	assert.Equal(t, "rld", string(q.Bytes()))
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 1, q.Len())

	// the split part must not share capacity with the remainder
	out[len(out)-1] = append(out[len(out)-1], 'X')
	assert.Equal(t, "rld", string(q.Bytes()))

	out = q.DrainN(2)
	assert.Equal(t, "rl", string(Join(out)))
	assert.Equal(t, "d", string(Join(q.Drain())))
	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.DrainN(1))
}

func TestQueue_DrainNOnChunkBoundary(t *testing.T) {
	q := queueOf("ab", "cd", "ef")
	assert.Len(t, q.DrainN(4), 2)
	assert.Equal(t, "ef", string(q.Bytes()))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 2, q.Discard(10))
	assert.True(t, q.IsEmpty())
}

// Mixed operations never lose, duplicate or reorder bytes.
func TestQueue_ConservesBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := NewQueue()
	var model []byte
	var drained []byte
	total := 0
	chunk := func() []byte {
		c := make([]byte, rng.Intn(6))
		for i := range c {
			c[i] = byte(total)
			total++
		}
		return c
	}

	for step := 0; step < 2000; step++ {
		switch rng.Intn(4) {
		case 0:
			c := chunk()
			q.Append(c)
			model = append(model, c...)
		case 1:
			// put back the bytes just drained
			n := min(len(drained), rng.Intn(5))
			back := append([]byte(nil), drained[len(drained)-n:]...)
			drained = drained[:len(drained)-n]
			q.AppendFirst(back)
			model = append(back, model...)
		case 2:
			n := rng.Intn(9)
			out := Join(q.DrainN(n))
			take := min(n, len(model))
			require.Equal(t, model[:take], out, "step %d", step)
			drained = append(drained, out...)
			model = model[take:]
		case 3:
			if rng.Intn(10) == 0 {
				out := Join(q.Drain())
				require.Equal(t, model, out, "step %d", step)
				drained = append(drained, out...)
				model = nil
			}
		}
		require.Equal(t, len(model), q.Size(), "step %d", step)
	}
	assert.Equal(t, model, q.Bytes())

	all := append(drained, model...)
	require.Len(t, all, total)
	for i, b := range all {
		require.Equal(t, byte(i), b, "offset %d", i)
	}
}
