// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector type used for
// slot bookkeeping (free lists of pooled objects and
// masks of dirty binding slots).
package bitvec

import (
	"iter"
	"math/bits"
)

// Uint is the word type of a bit vector.
type Uint interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// V is a bit vector that grows a word at a time.
// The zero value is an empty vector.
type V[T Uint] struct {
	s   []T
	rem int
}

func (*V[T]) nbit() int { return bits.Len64(uint64(^T(0))) }

// pos returns the word holding bit index and the mask
// that selects it.
func (v *V[T]) pos(index int) (int, T) {
	n := v.nbit()
	return index / n, T(1) << (index % n)
}

// Len returns the number of bits in the vector.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Rem returns how many bits are unset.
func (v *V[_]) Rem() int { return v.rem }

// Grow appends nplus unset words to the vector.
// It returns the index of the first new bit.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.s = append(v.s, make([]T, nplus)...)
		v.rem += nplus * v.nbit()
	}
	return
}

// GrowBits grows the vector so that index n-1 is valid.
func (v *V[T]) GrowBits(n int) {
	if d := n - v.Len(); d > 0 {
		v.Grow((d + v.nbit() - 1) / v.nbit())
	}
}

func (v *V[T]) Set(index int) {
	i, m := v.pos(index)
	if v.s[i]&m != 0 {
		return
	}
	v.s[i] |= m
	v.rem--
}

func (v *V[T]) Unset(index int) {
	i, m := v.pos(index)
	if v.s[i]&m == 0 {
		return
	}
	v.s[i] &^= m
	v.rem++
}

// IsSet reports whether bit index is set.
// Indices past the end of the vector are reported as unset.
func (v *V[T]) IsSet(index int) bool {
	if index < 0 {
		return false
	}
	i, m := v.pos(index)
	return i < len(v.s) && v.s[i]&m != 0
}

// Search locates the lowest unset bit in the vector.
// It fails only when v.Rem() == 0.
func (v *V[T]) Search() (index int, ok bool) {
	if v.rem == 0 {
		return
	}
	for i := range v.s {
		if free := ^v.s[i]; free != 0 {
			return i*v.nbit() + bits.TrailingZeros64(uint64(free)), true
		}
	}
	return
}

// Clear unsets every bit.
func (v *V[T]) Clear() {
	clear(v.s)
	v.rem = v.Len()
}

// Any reports whether at least one bit is set.
func (v *V[_]) Any() bool { return v.rem != v.Len() }

// Runs returns an iterator over the maximal runs of
// contiguous set bits, in ascending order.
// Each pair is the index of the first bit of the run and
// the number of bits in it.
func (v *V[T]) Runs() iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		start, cnt := 0, 0
		for i := range v.Len() {
			if w, m := v.pos(i); v.s[w]&m != 0 {
				if cnt == 0 {
					start = i
				}
				cnt++
				continue
			}
			if cnt > 0 {
				if !yield(start, cnt) {
					return
				}
				cnt = 0
			}
		}
		if cnt > 0 {
			yield(start, cnt)
		}
	}
}
