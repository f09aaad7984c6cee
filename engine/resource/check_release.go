//go:build !kilndebug

package resource

// debugChecks is off in release builds; invariant violations still surface as
// errors on the fallible paths, but nothing panics.
const debugChecks = false

func assertf(bool, string, ...any) {}
