package hsm

// slabNil marks the absence of a slot index.
const slabNil = -1

type slabSlot[T any] struct {
	value T
	next  int
}

// slab is a growable, free-list backed indirect array. Slots are addressed by
// integer index and can be threaded into ordered chains through their next
// link, which lets one backing store hold many independent logical lists.
// Freed slots are pushed onto a free-list head and reused in O(1).
type slab[T any] struct {
	slots []slabSlot[T]
	free  int
	count int
}

func newSlab[T any](capacity int) *slab[T] {
	return &slab[T]{
		slots: make([]slabSlot[T], 0, capacity),
		free:  slabNil,
	}
}

// StoreLast places v in a fresh slot and, when connectTo is a valid index,
// links it as the successor of connectTo. It returns the new slot index.
func (s *slab[T]) StoreLast(v T, connectTo int) int {
	idx := s.alloc()
	s.slots[idx] = slabSlot[T]{value: v, next: slabNil}
	if connectTo != slabNil {
		s.slots[connectTo].next = idx
	}
	s.count++
	return idx
}

func (s *slab[T]) alloc() int {
	if s.free != slabNil {
		idx := s.free
		s.free = s.slots[idx].next
		return idx
	}
	s.slots = append(s.slots, slabSlot[T]{})
	return len(s.slots) - 1
}

// Remove releases a single slot back to the free list.
func (s *slab[T]) Remove(idx int) {
	var zero T
	s.slots[idx] = slabSlot[T]{value: zero, next: s.free}
	s.free = idx
	s.count--
}

// RemoveFrom releases the entire chain starting at idx.
func (s *slab[T]) RemoveFrom(idx int) {
	for idx != slabNil {
		next := s.slots[idx].next
		s.Remove(idx)
		idx = next
	}
}

// Next returns the successor slot of idx, or slabNil at chain end.
func (s *slab[T]) Next(idx int) int {
	return s.slots[idx].next
}

// Value returns the value stored at idx.
func (s *slab[T]) Value(idx int) T {
	return s.slots[idx].value
}

// Len reports the number of occupied slots.
func (s *slab[T]) Len() int {
	return s.count
}
