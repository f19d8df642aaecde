// Package namespace is a minimal extension built entirely on the public
// store API (SPEC_FULL.md §4.8): it partitions the 12-bit key space into
// 16 isolated namespaces of 256 keys each, so independent callers sharing
// one *store.Store cannot collide on key numbers.
package namespace

import store "github.com/flashkv/store"

// Count is the number of namespaces the 12-bit key space is divided
// into.
const Count = 16

// KeysPerNamespace is how many local keys each namespace owns.
const KeysPerNamespace = 256

// View is one namespace's window onto a shared *store.Store: local keys
// 0..255 are mapped onto the store's real key space as
// (namespace<<8 | localKey).
type View struct {
	s  *store.Store
	ns uint16
}

// New returns a View for namespace ns (0..15) over s.
func New(s *store.Store, ns int) (*View, error) {
	if ns < 0 || ns >= Count {
		return nil, store.ErrInvalid
	}
	return &View{s: s, ns: uint16(ns)}, nil
}

func (v *View) key(local uint16) (uint16, error) {
	if local >= KeysPerNamespace {
		return 0, store.ErrInvalid
	}
	return v.ns<<8 | local, nil
}

// Insert writes value under local within this namespace.
func (v *View) Insert(local uint16, value []byte) error {
	k, err := v.key(local)
	if err != nil {
		return err
	}
	return v.s.Insert(k, value)
}

// Remove deletes local within this namespace, if live.
func (v *View) Remove(local uint16) error {
	k, err := v.key(local)
	if err != nil {
		return err
	}
	return v.s.Remove(k)
}

// Clear marks every local key ≥ threshold within this namespace as
// deleted, by calling the store's global Clear with this namespace's
// global key for threshold (namespace<<8 | threshold). Because Clear's
// global threshold applies to every key
// ≥ threshold store-wide, Clear on a View is only exact when this
// namespace is the highest-numbered one still holding keys above
// threshold; callers sharing a store across namespaces should prefer
// Remove for anything but "wind the whole store down".
func (v *View) Clear(threshold uint16) error {
	k, err := v.key(threshold)
	if err != nil {
		return err
	}
	return v.s.Clear(k)
}

// Iter walks this namespace's live (local key, value) pairs.
func (v *View) Iter() *Iterator {
	return &Iterator{ns: v.ns, it: v.s.Iter()}
}

// Iterator yields (local key, value) pairs scoped to one namespace.
type Iterator struct {
	ns uint16
	it *store.Iterator
}

// Next returns the next pair whose global key belongs to this
// namespace, or ok=false once the underlying snapshot is exhausted.
func (it *Iterator) Next() (local uint16, value []byte, ok bool) {
	for {
		k, v, ok := it.it.Next()
		if !ok {
			return 0, nil, false
		}
		if k>>8 == it.ns {
			return k & 0xFF, v, true
		}
	}
}
