// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package bitvec

import (
	"testing"
)

func TestNbit(t *testing.T) {
	for _, x := range [...]struct{ have, want int }{
		{(&V[uint8]{}).nbit(), 8},
		{(&V[uint16]{}).nbit(), 16},
		{(&V[uint32]{}).nbit(), 32},
		{(&V[uint64]{}).nbit(), 64},
	} {
		if x.have != x.want {
			t.Fatalf("V[T].nbit:\nhave %d\nwant %d", x.have, x.want)
		}
	}
}

func TestZero(t *testing.T) {
	var v16 V[uint16]
	if n := v16.Len(); n != 0 {
		t.Fatalf("v16.Len:\nhave %d\nwant 0", n)
	}
	if n := v16.Rem(); n != 0 {
		t.Fatalf("v16.Rem:\nhave %d\nwant 0", n)
	}
	if _, ok := v16.Search(); ok {
		t.Fatal("v16.Search:\nhave true\nwant false")
	}
	if v16.IsSet(3) {
		t.Fatal("v16.IsSet(3):\nhave true\nwant false")
	}
	if v16.Any() {
		t.Fatal("v16.Any:\nhave true\nwant false")
	}
}

func TestGrow(t *testing.T) {
	var v32 V[uint32]
	for _, x := range [...]struct {
		nplus, wantLen int
	}{
		{1, 32},
		{2, 96},
		{0, 96},
		{-1, 96},
		{5, 256},
	} {
		if n, i := v32.Len(), v32.Grow(x.nplus); n != i {
			t.Fatalf("v32.Grow:\nhave %d\nwant %d", i, n)
		}
		if n := v32.Len(); n != x.wantLen {
			t.Fatalf("v32.Grow: Len:\nhave %d\nwant %d", n, x.wantLen)
		}
		if n := v32.Rem(); n != x.wantLen {
			t.Fatalf("v32.Grow: Rem:\nhave %d\nwant %d", n, x.wantLen)
		}
	}
	var v8 V[uint8]
	v8.GrowBits(9)
	if n := v8.Len(); n != 16 {
		t.Fatalf("v8.GrowBits(9): Len:\nhave %d\nwant 16", n)
	}
	v8.GrowBits(4)
	if n := v8.Len(); n != 16 {
		t.Fatalf("v8.GrowBits(4): Len:\nhave %d\nwant 16", n)
	}
}

func TestSetUnset(t *testing.T) {
	var v V[uint8]
	v.Grow(2)
	v.Set(0)
	v.Set(9)
	v.Set(9)
	if n := v.Rem(); n != 14 {
		t.Fatalf("v.Rem:\nhave %d\nwant 14", n)
	}
	if !v.IsSet(0) || !v.IsSet(9) || v.IsSet(1) {
		t.Fatal("v.IsSet: unexpected result")
	}
	v.Unset(0)
	v.Unset(0)
	if n := v.Rem(); n != 15 {
		t.Fatalf("v.Rem:\nhave %d\nwant 15", n)
	}
	v.Clear()
	if n := v.Rem(); n != 16 {
		t.Fatalf("v.Clear: Rem:\nhave %d\nwant 16", n)
	}
}

func TestSearch(t *testing.T) {
	var v V[uint16]
	v.Grow(2)
	for i := range 32 {
		idx, ok := v.Search()
		if !ok || idx != i {
			t.Fatalf("v.Search:\nhave %d, %t\nwant %d, true", idx, ok, i)
		}
		v.Set(idx)
	}
	if _, ok := v.Search(); ok {
		t.Fatal("v.Search: full vector:\nhave true\nwant false")
	}
	v.Unset(17)
	if idx, ok := v.Search(); !ok || idx != 17 {
		t.Fatalf("v.Search:\nhave %d, %t\nwant 17, true", idx, ok)
	}
}

func TestRuns(t *testing.T) {
	var v V[uint8]
	v.Grow(3)
	for _, i := range [...]int{0, 1, 2, 6, 7, 8, 9, 15, 23} {
		v.Set(i)
	}
	want := [][2]int{{0, 3}, {6, 4}, {15, 1}, {23, 1}}
	var have [][2]int
	for start, n := range v.Runs() {
		have = append(have, [2]int{start, n})
	}
	if len(have) != len(want) {
		t.Fatalf("v.Runs:\nhave %v\nwant %v", have, want)
	}
	for i := range want {
		if have[i] != want[i] {
			t.Fatalf("v.Runs:\nhave %v\nwant %v", have, want)
		}
	}
	for start, n := range v.Runs() {
		if start != 0 || n != 3 {
			t.Fatalf("v.Runs: first:\nhave %d, %d\nwant 0, 3", start, n)
		}
		break
	}
}
