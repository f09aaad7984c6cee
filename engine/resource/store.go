package resource

import (
	"fmt"
	"sync"
)

// slot holds one payload plus the bookkeeping needed to detect stale handles.
// Invariant: occupied is true iff payload is meaningful. The generation is
// bumped every time the slot transitions occupied -> free, so any handle
// issued before the free fails validation afterwards.
type slot[T any] struct {
	generation uint32
	occupied   bool
	payload    T
}

// Store is a generational slot array managing allocation, free, and validated
// lookup for one resource type. It replaces raw pointers to GPU objects with
// indirect handles: a lookup against a freed (or freed-and-reused) slot fails
// with ErrStaleHandle instead of dereferencing a dead resource.
//
// A Store is safe for concurrent use. Allocate and Free serialize under a
// single write lock per store; Get and GetMany take the read lock, so an
// in-flight read always observes a consistent occupied/generation pair.
type Store[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
}

// NewStore creates an empty Store for payloads of type T.
//
// Returns:
//   - *Store[T]: the new store
func NewStore[T any]() *Store[T] {
	return &Store[T]{}
}

// Len returns the number of occupied slots.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots) - len(s.free)
}

// Allocate takes ownership of payload, places it in a free slot (reusing a
// previously freed index when one exists, appending otherwise), and returns a
// handle carrying the slot's current generation. O(1) amortized.
//
// Parameters:
//   - payload: the payload the store takes ownership of
//
// Returns:
//   - Handle[T]: a handle valid until the matching Free
func (s *Store[T]) Allocate(payload T) Handle[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.free); n > 0 {
		index := s.free[n-1]
		s.free = s.free[:n-1]
		sl := &s.slots[index]
		sl.occupied = true
		sl.payload = payload
		return Handle[T]{index: index, generation: sl.generation}
	}

	index := uint32(len(s.slots))
	// Fresh slots start at generation 1 so the zero Handle never validates.
	s.slots = append(s.slots, slot[T]{generation: 1, occupied: true, payload: payload})
	return Handle[T]{index: index, generation: 1}
}

// Free validates the handle, extracts and returns the payload, marks the slot
// unoccupied, and increments its generation so outstanding copies of the
// handle become stale.
//
// Parameters:
//   - h: the handle to free
//
// Returns:
//   - T: the extracted payload
//   - error: ErrOutOfRange if the index addresses no slot, ErrDoubleFree if
//     the slot is already unoccupied, ErrStaleHandle if the generation does
//     not match the slot's current generation
func (s *Store[T]) Free(h Handle[T]) (T, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(h.index) >= len(s.slots) {
		return zero, fmt.Errorf("%w: index %d, len %d", ErrOutOfRange, h.index, len(s.slots))
	}
	sl := &s.slots[h.index]
	if !sl.occupied {
		return zero, fmt.Errorf("%w: slot %d", ErrDoubleFree, h.index)
	}
	if sl.generation != h.generation {
		return zero, fmt.Errorf("%w: slot %d expected generation %d, handle has %d",
			ErrStaleHandle, h.index, sl.generation, h.generation)
	}

	payload := sl.payload
	sl.payload = zero
	sl.occupied = false
	sl.generation++
	s.free = append(s.free, h.index)
	return payload, nil
}

// Get validates the handle and returns a pointer to the payload. The pointer
// must not be retained across any point where the same handle could be freed:
// its validity ends at the matching Free.
//
// Parameters:
//   - h: the handle to look up
//
// Returns:
//   - *T: the payload
//   - error: ErrOutOfRange or ErrStaleHandle on validation failure
func (s *Store[T]) Get(h Handle[T]) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(h)
}

// GetMany validates every handle first and returns the payloads in handle
// order. Validation is all-or-nothing: if any handle fails, no payload is
// returned and the store is untouched. Duplicate handles addressing the same
// slot are rejected with ErrAliasingViolation, since the batch hands out
// payloads for mutation and two entries must never alias one slot.
//
// Parameters:
//   - handles: the handles to resolve as one atomic batch
//
// Returns:
//   - []*T: payloads in the same order as handles
//   - error: the first validation failure, or ErrAliasingViolation
func (s *Store[T]) GetMany(handles []Handle[T]) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uint32]struct{}, len(handles))
	for _, h := range handles {
		if _, dup := seen[h.index]; dup {
			return nil, fmt.Errorf("%w: slot %d requested twice", ErrAliasingViolation, h.index)
		}
		seen[h.index] = struct{}{}
		if _, err := s.getLocked(h); err != nil {
			return nil, err
		}
	}

	out := make([]*T, len(handles))
	for i, h := range handles {
		payload, _ := s.getLocked(h)
		out[i] = payload
	}
	return out, nil
}

func (s *Store[T]) getLocked(h Handle[T]) (*T, error) {
	if int(h.index) >= len(s.slots) {
		return nil, fmt.Errorf("%w: index %d, len %d", ErrOutOfRange, h.index, len(s.slots))
	}
	sl := &s.slots[h.index]
	if !sl.occupied || sl.generation != h.generation {
		return nil, fmt.Errorf("%w: slot %d", ErrStaleHandle, h.index)
	}
	return &sl.payload, nil
}
