package resource

import "fmt"

// Guard owns exactly one native GPU object and the destroy procedure captured
// when it was created. The underlying API has no automatic destructors, so the
// guard enforces the two-phase lifetime by hand: destroy runs exactly once,
// either through an explicit Destroy call or when the Registry releases the
// owning slot. Guards are not copyable — they move by pointer, so inserting
// one into a store payload never triggers destruction.
//
// The native object is stored type-erased; Native recovers it with a checked
// downcast. In debug builds (the kilndebug tag) a type tag recorded at
// creation is validated on every access, catching cross-kind handle misuse
// before it reaches the native API.
type Guard struct {
	native    any
	destroy   func(native any) error
	destroyed bool
	tag       string
}

// NewGuard invokes create, producing a native resource, and pairs it with
// destroy. The destroy procedure is captured once and never replaced.
//
// Parameters:
//   - create: produces the native resource; its error aborts guard creation
//   - destroy: releases the native resource back to the native API
//
// Returns:
//   - *Guard: the guard owning the created resource
//   - error: the error from create, if any
func NewGuard[T any](create func() (T, error), destroy func(T) error) (*Guard, error) {
	native, err := create()
	if err != nil {
		return nil, err
	}
	return &Guard{
		native: native,
		destroy: func(n any) error {
			return destroy(n.(T))
		},
		tag: fmt.Sprintf("%T", native),
	}, nil
}

// Live reports whether the guarded resource has not been destroyed yet.
func (g *Guard) Live() bool {
	return !g.destroyed
}

// Destroy invokes the destroy procedure on the held resource exactly once.
// A second call returns ErrAlreadyDestroyed; in debug builds it asserts,
// since a double destroy indicates a programming error in the caller's
// ownership tracking rather than a runtime condition.
//
// Returns:
//   - error: the destroy procedure's error, or ErrAlreadyDestroyed
func (g *Guard) Destroy() error {
	if g.destroyed {
		assertf(false, "guard for %s destroyed twice", g.tag)
		return fmt.Errorf("%w: %s", ErrAlreadyDestroyed, g.tag)
	}
	g.destroyed = true
	err := g.destroy(g.native)
	g.native = nil
	return err
}

// Native recovers the guarded native resource as type T.
//
// Returns:
//   - T: the native resource
//   - error: ErrAlreadyDestroyed if the guard was consumed, ErrKindMismatch
//     if the resource was created as a different type
func Native[T any](g *Guard) (T, error) {
	var zero T
	if g.destroyed {
		assertf(false, "access to destroyed %s", g.tag)
		return zero, fmt.Errorf("%w: %s", ErrAlreadyDestroyed, g.tag)
	}
	native, ok := g.native.(T)
	if !ok {
		assertf(false, "guarded %s accessed as %T", g.tag, zero)
		return zero, fmt.Errorf("%w: guarded %s accessed as %T", ErrKindMismatch, g.tag, zero)
	}
	if debugChecks {
		if tag := fmt.Sprintf("%T", native); tag != g.tag {
			assertf(false, "type tag %s does not match stored %s", tag, g.tag)
		}
	}
	return native, nil
}
