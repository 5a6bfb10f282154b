package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue_FIFOAcrossChunks(t *testing.T) {
	t.Parallel()

	var q workQueue
	_, ok := q.pop()
	assert.False(t, ok)

	const n = chunkSize*3 + 7
	var got []int
	for i := range n {
		q.push(func() { got = append(got, i) })
	}
	assert.Equal(t, n, q.len())

	for range n {
		fn, ok := q.pop()
		require.True(t, ok)
		fn()
	}
	assert.Equal(t, 0, q.len())
	_, ok = q.pop()
	assert.False(t, ok)

	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorkQueue_InterleavedPushPop(t *testing.T) {
	t.Parallel()

	var q workQueue
	next, want := 0, 0
	for round := range 10 {
		for range round * 50 {
			v := next
			q.push(func() { assert.Equal(t, want, v); want++ })
			next++
		}
		for range round * 25 {
			fn, ok := q.pop()
			require.True(t, ok)
			fn()
		}
	}
	for q.len() > 0 {
		fn, _ := q.pop()
		fn()
	}
	assert.Equal(t, next, want)
}
