// Package propset implements the SVN node property set: an ordered
// mapping from property name to byte-string value, and the delta between
// two such mappings as produced by the dump decoder.
//
// SVN dumps declare properties in a fixed order, and re-serializing a
// node's properties in a different order changes the dump's
// byte-for-byte shape, which makes regression fixtures and manual review
// harder to trust. gods' linkedhashmap gives insertion-order iteration
// for free instead of hand-rolling a parallel slice-of-keys.
package propset

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Property names the converter interprets.
const (
	Mergeinfo      = "svn:mergeinfo"
	Ignore         = "svn:ignore"
	GlobalIgnores  = "svn:global-ignores"
	Special        = "svn:special"
	Executable     = "svn:executable"
	Log            = "svn:log"
	Author         = "svn:author"
	Date           = "svn:date"
)

// Set is an ordered name -> value mapping.
type Set struct {
	m *linkedhashmap.Map
}

// New returns an empty Set.
func New() Set {
	return Set{m: linkedhashmap.New()}
}

// Get returns the value for name and whether it is present.
func (s Set) Get(name string) ([]byte, bool) {
	if s.m == nil {
		return nil, false
	}
	v, ok := s.m.Get(name)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Has reports whether name is present, regardless of value.
func (s Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Set assigns value to name, preserving name's original position if it was
// already present, or appending it at the end otherwise.
func (s Set) Set(name string, value []byte) Set {
	if s.m == nil {
		s = New()
	}
	s.m.Put(name, value)
	return s
}

// Remove deletes name, if present.
func (s Set) Remove(name string) Set {
	if s.m == nil {
		return s
	}
	s.m.Remove(name)
	return s
}

// Each calls fn for every (name, value) pair in insertion order.
func (s Set) Each(fn func(name string, value []byte)) {
	if s.m == nil {
		return
	}
	s.m.Each(func(key, value interface{}) {
		fn(key.(string), value.([]byte))
	})
}

// Len returns the number of properties.
func (s Set) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Size()
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := New()
	s.Each(func(name string, value []byte) {
		out = out.Set(name, value)
	})
	return out
}

// Delta is a sparse set of property changes: names mapped to either a new
// value, or nil to mean "delete this property". The dump decoder fills
// one with every property a node's property block sets.
type Delta map[string][]byte

// Apply returns a new Set with d's changes applied on top of base. A nil
// value in d removes the corresponding property.
func (d Delta) Apply(base Set) Set {
	out := base.Clone()
	for name, value := range d {
		if value == nil {
			out = out.Remove(name)
		} else {
			out = out.Set(name, value)
		}
	}
	return out
}
