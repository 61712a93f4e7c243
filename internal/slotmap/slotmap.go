// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package slotmap defines a densely packed map whose keys are
// generation-checked slot indices.
package slotmap

import (
	"github.com/gviegas/rhi/internal/bitvec"
)

// ID identifies an element of a Map.
// The low 32 bits hold the slot index and the high 32 bits
// hold the slot's generation at insertion time. The zero ID
// is never returned by Insert.
type ID uint64

// Index returns the slot index of id.
func (id ID) Index() int { return int(uint32(id)) }

// Gen returns the generation of id.
func (id ID) Gen() uint32 { return uint32(id >> 32) }

func makeID(index int, gen uint32) ID { return ID(gen)<<32 | ID(uint32(index)) }

type slot struct {
	data int
	gen  uint32
}

type entry[D any] struct {
	data D
	slot int
}

// Map stores values of type D.
// Removing an element bumps its slot's generation, so stale
// IDs are rejected instead of aliasing a newer element.
// Map is not safe for concurrent use.
type Map[D any] struct {
	slots []slot
	used  bitvec.V[uint32]
	data  []entry[D]
}

// Insert inserts d and returns its ID.
func (m *Map[D]) Insert(d D) ID {
	if m.used.Rem() == 0 {
		m.used.Grow(1)
		m.slots = append(m.slots, make([]slot, m.used.Len()-len(m.slots))...)
	}
	idx, ok := m.used.Search()
	if !ok {
		panic("slotmap: unexpected failure from bitvec.V.Search")
	}
	m.used.Set(idx)
	s := &m.slots[idx]
	// Generation 0 is reserved so that the zero ID is invalid.
	if s.gen == 0 {
		s.gen = 1
	}
	s.data = len(m.data)
	m.data = append(m.data, entry[D]{d, idx})
	return makeID(idx, s.gen)
}

func (m *Map[D]) valid(id ID) bool {
	i := id.Index()
	return i < len(m.slots) && m.used.IsSet(i) && m.slots[i].gen == id.Gen()
}

// Remove removes the element identified by id.
// It returns the removed value and whether id was valid.
func (m *Map[D]) Remove(id ID) (d D, ok bool) {
	if !m.valid(id) {
		return
	}
	s := &m.slots[id.Index()]
	di := s.data
	d = m.data[di].data
	last := len(m.data) - 1
	if di < last {
		m.slots[m.data[last].slot].data = di
		m.data[di] = m.data[last]
	}
	m.data[last] = entry[D]{}
	m.data = m.data[:last]
	s.data = -1
	s.gen++
	m.used.Unset(id.Index())
	return d, true
}

// Get returns a pointer to the element identified by id,
// or nil if id is not valid.
func (m *Map[D]) Get(id ID) *D {
	if !m.valid(id) {
		return nil
	}
	return &m.data[m.slots[id.Index()].data].data
}

// Len returns the number of elements in m.
func (m *Map[_]) Len() int { return len(m.data) }

// Values returns a copy of the elements of m in storage order.
func (m *Map[D]) Values() []D {
	s := make([]D, len(m.data))
	for i := range m.data {
		s[i] = m.data[i].data
	}
	return s
}
