package resource

import "errors"

// Handle-validation and lifecycle errors. These are always returned to the
// caller, never swallowed: a stale handle must never resolve to a different,
// reused resource.
var (
	// ErrStaleHandle is returned when a handle's generation does not match the
	// slot's current generation, meaning the resource it referred to has been
	// freed (and possibly replaced) since the handle was issued.
	ErrStaleHandle = errors.New("resource: stale handle")

	// ErrOutOfRange is returned when a handle's index does not address any
	// slot in the store.
	ErrOutOfRange = errors.New("resource: handle index out of range")

	// ErrDoubleFree is returned when freeing a handle whose slot is already
	// unoccupied.
	ErrDoubleFree = errors.New("resource: double free")

	// ErrAlreadyDestroyed is returned when a Guard's destroy procedure is
	// invoked more than once.
	ErrAlreadyDestroyed = errors.New("resource: resource already destroyed")

	// ErrAliasingViolation is returned when a batched lookup would hand out
	// the same slot more than once.
	ErrAliasingViolation = errors.New("resource: aliasing violation")

	// ErrKindMismatch is returned when a guarded native resource is accessed
	// as a different type than it was created with, e.g. treating an image
	// handle as a buffer handle.
	ErrKindMismatch = errors.New("resource: native resource kind mismatch")
)
