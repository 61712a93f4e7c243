// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package rhi

import (
	"encoding/binary"
	"math"
	"sync"
)

// cache maps structural keys to resources.
// The cache holds one reference to each entry; objects
// returned by get are borrowed from it.
type cache[T resource] struct {
	kind string

	mu     sync.Mutex
	m      map[string]T
	hits   int
	misses int
}

func newCache[T resource](kind string) *cache[T] {
	return &cache[T]{kind: kind, m: make(map[string]T)}
}

// get returns the entry of key, calling create to make
// it if there is none.
// The lock is held while create runs, so that equal keys
// never yield distinct objects.
func (c *cache[T]) get(key []byte, create func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.m[string(key)]; ok {
		c.hits++
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.misses++
	c.m[string(key)] = v
	Logger().Debug("rhi: cache miss", "cache", c.kind, "entries", len(c.m))
	return v, nil
}

// Trim releases the entries that are referenced only by
// the cache. It returns the number of entries released.
// Objects returned by GetCached methods are borrowed, so
// Trim must not run concurrently with those calls, nor
// between a call and the Retain or command list binding
// that keeps its result alive. Entries bound by a
// recording or in-flight command list are kept.
func (c *cache[T]) Trim() int {
	c.mu.Lock()
	var drop []T
	for k, v := range c.m {
		if v.base().Refs() == 1 {
			delete(c.m, k)
			drop = append(drop, v)
		}
	}
	c.mu.Unlock()
	for _, v := range drop {
		v.base().Release()
	}
	if len(drop) > 0 {
		Logger().Debug("rhi: cache trimmed", "cache", c.kind, "released", len(drop))
	}
	return len(drop)
}

// Len returns the number of entries.
func (c *cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Stats returns the number of hits and misses so far.
func (c *cache[T]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// drain releases every entry.
func (c *cache[T]) drain() {
	c.mu.Lock()
	m := c.m
	c.m = make(map[string]T)
	c.mu.Unlock()
	for _, v := range m {
		v.base().Release()
	}
}

// key builds the canonical byte string of a description.
// Resources are encoded by their generation-checked ID.
type key []byte

func (k *key) int(v int) { *k = binary.AppendVarint(*k, int64(v)) }

func (k *key) int64(v int64) { *k = binary.AppendVarint(*k, v) }

func (k *key) uint(v uint64) { *k = binary.AppendUvarint(*k, v) }

func (k *key) f32(v float32) { k.uint(uint64(math.Float32bits(v))) }

func (k *key) bool(v bool) {
	if v {
		*k = append(*k, 1)
	} else {
		*k = append(*k, 0)
	}
}

func (k *key) str(s string) {
	k.int(len(s))
	*k = append(*k, s...)
}

// res encodes r's ID. Absent resources are encoded with
// k.uint(0), since IDs are never zero.
func (k *key) res(r resource) { k.uint(uint64(r.base().id)) }
