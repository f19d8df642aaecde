// Package counters is a minimal extension built entirely on the public
// store API (SPEC_FULL.md §4.8): it demonstrates that Insert is
// sufficient to build a higher-level monotonic counter without touching
// the core engine.
package counters

import (
	"encoding/binary"

	store "github.com/flashkv/store"
)

// Base is the first key of the 256-counter reservation (key range
// 2048..2303 by convention — see doc.go's migration-scratch note).
const Base = 2048

// Count is the number of independent counters this package manages.
const Count = 256

// Counters increments fixed-width counters on top of a shared
// *store.Store, one counter per reserved key.
type Counters struct {
	s *store.Store
}

// New wraps s. It does not itself reserve the key range — callers are
// responsible for not also using keys 2048..2303 for anything else.
func New(s *store.Store) *Counters {
	return &Counters{s: s}
}

// Get returns the current value of counter id (0..255), or 0 if it has
// never been incremented.
func (c *Counters) Get(id int) (uint64, error) {
	if id < 0 || id >= Count {
		return 0, store.ErrInvalid
	}
	it := c.s.Iter()
	key := uint16(Base + id)
	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
		if k == key {
			return decode(v), nil
		}
	}
	return 0, nil
}

// Increment adds delta to counter id and returns its new value, by
// re-inserting the whole 8-byte little-endian value under its key — the
// same power-loss-atomic replace Insert already provides for any key.
func (c *Counters) Increment(id int, delta uint64) (uint64, error) {
	cur, err := c.Get(id)
	if err != nil {
		return 0, err
	}
	next := cur + delta
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, next)
	if err := c.s.Insert(uint16(Base+id), buf); err != nil {
		return 0, err
	}
	return next, nil
}

func decode(v []byte) uint64 {
	if len(v) < 8 {
		buf := make([]byte, 8)
		copy(buf, v)
		v = buf
	}
	return binary.LittleEndian.Uint64(v)
}
