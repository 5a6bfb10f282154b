//go:build !release

package assert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThat(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() { That(true, "never") })
	require.PanicsWithValue(t, "executing set has 3 tasks", func() {
		That(false, "executing set has %d tasks", 3)
	})
}
