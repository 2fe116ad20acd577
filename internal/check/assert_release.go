//go:build !debug

package check

// Assert compiles away in release builds.
func Assert(_ bool, _ string) {}

// Assertf compiles away in release builds.
func Assertf(_ bool, _ string, _ ...any) {}
