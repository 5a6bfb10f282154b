//go:build !release

package assert

import "fmt"

// That panics with the formatted message when cond is false. It guards programming errors such as
// calling scheduler methods in the wrong order, never conditions a caller is expected to handle.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
