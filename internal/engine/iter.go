package engine

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/flashkv/store/internal/wordfmt"
)

// Iterator walks a fixed snapshot of the live key set taken at the
// moment Iter was called (spec.md §4.6 / §9: "iteration is valid only
// while the store is not mutated"). Order is unspecified by the spec but
// made stable here by walking ascending key order.
type Iterator struct {
	e    *Engine
	keys []uint16
	pos  int
}

// Iter snapshots the current live key set into ascending order using a
// fixed-width bitset over the 12-bit key space, then lets the caller walk
// it one (key, value) pair at a time.
func (e *Engine) Iter() *Iterator {
	present := bitset.New(uint(wordfmt.MaxKey + 1))
	for k := range e.live {
		present.Set(uint(k))
	}
	keys := make([]uint16, 0, len(e.live))
	for i, ok := present.NextSet(0); ok; i, ok = present.NextSet(i + 1) {
		keys = append(keys, uint16(i))
	}
	return &Iterator{e: e, keys: keys}
}

// Next returns the next live (key, value) pair, or ok=false once
// exhausted.
func (it *Iterator) Next() (key uint16, value []byte, ok bool) {
	if it.pos >= len(it.keys) {
		return 0, nil, false
	}
	k := it.keys[it.pos]
	it.pos++
	entry := it.e.live[k]
	return k, append([]byte(nil), entry.value...), true
}
