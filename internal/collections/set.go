// Package collections provides small generic containers shared across the
// governance components. Set[T] is adapted from utils/set/set.go
// (golang.org/x/exp/maps-backed) in the teacher, trimmed to the subset
// this spec's Realm/Lane/capability membership checks need.
package collections

import "golang.org/x/exp/maps"

// Set is a set of comparable elements backed by a map.
type Set[T comparable] map[T]struct{}

// NewSet returns an empty set with a capacity hint.
func NewSet[T comparable](size int) Set[T] {
	if size < 0 {
		return Set[T]{}
	}
	return make(Set[T], size)
}

// Of returns a Set initialized with elts.
func Of[T comparable](elts ...T) Set[T] {
	s := NewSet[T](len(elts))
	s.Add(elts...)
	return s
}

// Add inserts elts into the set.
func (s Set[T]) Add(elts ...T) {
	for _, e := range elts {
		s[e] = struct{}{}
	}
}

// Contains reports whether e is in the set.
func (s Set[T]) Contains(e T) bool {
	_, ok := s[e]
	return ok
}

// ContainsAny reports whether any of elts is in the set.
func (s Set[T]) ContainsAny(elts ...T) bool {
	for _, e := range elts {
		if s.Contains(e) {
			return true
		}
	}
	return false
}

// Len returns the number of elements in the set.
func (s Set[T]) Len() int {
	return len(s)
}

// List returns the set's elements in unspecified order.
func (s Set[T]) List() []T {
	return maps.Keys(s)
}
