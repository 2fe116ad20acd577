//go:build debug

// Package check provides assertions that compile in only with the debug tag.
package check

import "fmt"

// Assert panics when cond is false. A no-op in release builds.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}
