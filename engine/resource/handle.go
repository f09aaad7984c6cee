package resource

// Handle is an opaque (index, generation) reference to a slot in a Store.
// It is a plain value: freely copyable, comparable, and carries no ownership
// of the payload it refers to. The type parameter ties a handle to the payload
// kind of the store that issued it, so an image handle cannot be passed where
// a buffer handle is expected.
//
// The zero Handle is never valid: stores issue generations starting at 1.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

// Index returns the slot index this handle addresses.
func (h Handle[T]) Index() uint32 {
	return h.index
}

// Generation returns the slot generation this handle was issued against.
func (h Handle[T]) Generation() uint32 {
	return h.generation
}

// IsZero reports whether h is the zero handle, which no store ever issues.
func (h Handle[T]) IsZero() bool {
	return h.generation == 0
}
