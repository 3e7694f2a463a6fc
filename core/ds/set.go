// Package ds provides small generic data structures used by the manager
// for deterministic shard and pod bookkeeping.
package ds

import (
	"encoding/json"
	"fmt"
)

// Set is an ordered set: O(1) membership testing plus insertion-order
// iteration, so that shard planning stays deterministic and testable.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

// NewSet creates a new set with the given items.
func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: map[T]struct{}{}, order: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) String() string {
	return fmt.Sprintf("%v", s.order)
}

// Add adds v to the set. No-op if already present. (mutates)
func (s *Set[T]) Add(v T) {
	if _, ok := s.items[v]; ok {
		return
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
}

// Remove removes the given values from the set. (mutates)
func (s *Set[T]) Remove(vs ...T) {
	removed := false
	for _, v := range vs {
		if _, ok := s.items[v]; ok {
			delete(s.items, v)
			removed = true
		}
	}
	if !removed {
		return
	}
	order := s.order[:0]
	for _, v := range s.order {
		if _, ok := s.items[v]; ok {
			order = append(order, v)
		}
	}
	s.order = order
}

// Contains returns true if v is present in the set.
func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

// Len returns the number of elements in the set.
func (s *Set[T]) Len() int { return len(s.items) }

// IsEmpty returns true if the set contains no elements.
func (s *Set[T]) IsEmpty() bool { return len(s.items) == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// ForEach iterates over all elements in insertion order.
func (s *Set[T]) ForEach(fn func(T)) {
	for _, v := range s.order {
		fn(v)
	}
}

// Merge adds all elements from other to s. (mutates)
func (s *Set[T]) Merge(other *Set[T]) {
	for _, v := range other.order {
		s.Add(v)
	}
}

// Copy returns a new set with the same elements and order.
func (s *Set[T]) Copy() *Set[T] {
	return NewSet(s.order...)
}

// MarshalJSON serializes the set as an ordered JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON deserializes a JSON array into the set.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	s.items = map[T]struct{}{}
	s.order = nil
	for _, v := range vs {
		s.Add(v)
	}
	return nil
}
