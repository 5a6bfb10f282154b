package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandSubset(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)

	for range 1000 {
		n := prng.IntN(20)
		k := prng.IntN(25)
		got := RandSubset(prng, n, k)

		assert.LessOrEqual(t, len(got), max(min(n, k), 0))
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i], "indices must be strictly ascending")
		}
		for _, v := range got {
			assert.GreaterOrEqual(t, v, 0)
			assert.Less(t, v, n)
		}
	}
}

func TestRandFloat(t *testing.T) {
	t.Parallel()
	prng := NewRand(t)

	for range 1000 {
		v := RandFloat(prng, -2.5, 4)
		assert.GreaterOrEqual(t, v, -2.5)
		assert.Less(t, v, 4.0)
	}
}
