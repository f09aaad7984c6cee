//go:build kilndebug

package resource

import "fmt"

// debugChecks gates the assertions that validate the core's own invariants:
// type tags on guarded resources and double-destroy detection. They indicate
// programming errors, not runtime conditions, so they panic instead of
// returning.
const debugChecks = true

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("resource: assertion failed: " + fmt.Sprintf(format, args...))
	}
}
