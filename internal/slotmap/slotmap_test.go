// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package slotmap

import (
	"testing"
)

func TestInsertGet(t *testing.T) {
	var m Map[string]
	ids := make([]ID, 0, 40)
	for i := range 40 {
		id := m.Insert(string(rune('a' + i%26)))
		if id == 0 {
			t.Fatal("Map.Insert: unexpected zero ID")
		}
		if id.Index() != i {
			t.Fatalf("Map.Insert: Index:\nhave %d\nwant %d", id.Index(), i)
		}
		ids = append(ids, id)
	}
	if n := m.Len(); n != 40 {
		t.Fatalf("Map.Len:\nhave %d\nwant 40", n)
	}
	for i, id := range ids {
		p := m.Get(id)
		if p == nil {
			t.Fatalf("Map.Get(%d): unexpected nil", i)
		}
		if want := string(rune('a' + i%26)); *p != want {
			t.Fatalf("Map.Get(%d):\nhave %s\nwant %s", i, *p, want)
		}
	}
}

func TestRemove(t *testing.T) {
	var m Map[int]
	a := m.Insert(10)
	b := m.Insert(20)
	c := m.Insert(30)
	if d, ok := m.Remove(a); !ok || d != 10 {
		t.Fatalf("Map.Remove:\nhave %d, %t\nwant 10, true", d, ok)
	}
	if _, ok := m.Remove(a); ok {
		t.Fatal("Map.Remove: stale ID:\nhave true\nwant false")
	}
	if m.Get(a) != nil {
		t.Fatal("Map.Get: stale ID:\nhave non-nil\nwant nil")
	}
	if *m.Get(b) != 20 || *m.Get(c) != 30 {
		t.Fatal("Map.Get: unexpected value after Remove")
	}
	// The freed slot is reused with a new generation.
	d := m.Insert(40)
	if d.Index() != a.Index() {
		t.Fatalf("Map.Insert: Index:\nhave %d\nwant %d", d.Index(), a.Index())
	}
	if d.Gen() == a.Gen() {
		t.Fatal("Map.Insert: generation was not bumped")
	}
	if m.Get(a) != nil {
		t.Fatal("Map.Get: stale ID resolved to new element")
	}
	if n := m.Len(); n != 3 {
		t.Fatalf("Map.Len:\nhave %d\nwant 3", n)
	}
	sum := 0
	for _, x := range m.Values() {
		sum += x
	}
	if sum != 90 {
		t.Fatalf("Map.Values: sum:\nhave %d\nwant 90", sum)
	}
}
