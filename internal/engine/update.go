package engine

import "github.com/flashkv/store/internal/wordfmt"

// Insert appends value under key, first writing the new entry in full and
// only then — if a live header for key already existed — flipping the old
// header's deleted bit. A crash between those two steps leaves two live
// headers for the same key; scanWindow's tie-break (later virtual address
// wins) and a later compaction resolve it (spec.md §4.4, S3).
func (e *Engine) Insert(key uint16, value []byte) error {
	if key > wordfmt.MaxKey {
		return ErrInvalid
	}
	if len(value) > wordfmt.MaxValueBytes {
		return ErrInvalid
	}
	cost := capacityCost(len(value))
	if cost > e.Capacity()+existingCost(e, key) {
		return ErrNoCapacity
	}
	if err := e.ensureRoom(cost); err != nil {
		return err
	}
	prev, hadPrev := e.live[key]
	addr, err := e.writeHeaderAndValue(key, value)
	if err != nil {
		return err
	}
	if hadPrev {
		if err := e.markDeleted(prev.addr); err != nil {
			return err
		}
		e.liveWords -= capacityCost(len(prev.value))
	}
	e.live[key] = liveEntry{addr: addr, value: append([]byte(nil), value...)}
	e.liveWords += cost
	return nil
}

// existingCost returns the capacity a live entry for key is already
// occupying, since replacing it does not need fresh capacity for those
// words (only for the size delta).
func existingCost(e *Engine, key uint16) int {
	if prev, ok := e.live[key]; ok {
		return capacityCost(len(prev.value))
	}
	return 0
}

// Remove deletes key if it is currently live. Outside a transaction this
// is free of persistent cost: the live header's deleted bit is flipped
// and its value words are wiped to all-zero, both single monotonic
// writes that need no new tail space.
func (e *Engine) Remove(key uint16) error {
	entry, ok := e.live[key]
	if !ok {
		return nil
	}
	n := (len(entry.value) + 3) / 4
	if err := e.markDeleted(entry.addr); err != nil {
		return err
	}
	if err := e.wipeValue(entry.addr, n); err != nil {
		return err
	}
	delete(e.live, key)
	e.liveWords -= capacityCost(len(entry.value))
	return nil
}

// Clear appends a Clear entry recording threshold: iteration and future
// scans ignore any key ≥ threshold from this point on. The words those
// keys occupy are not reclaimed until compaction next visits their page.
func (e *Engine) Clear(threshold uint16) error {
	if threshold > wordfmt.MaxClearThreshold {
		return ErrInvalid
	}
	if err := e.ensureRoom(1); err != nil {
		return err
	}
	addr := e.appendWords(1)
	w := wordfmt.EncodeClear(threshold)
	if err := e.win.writeSpan(addr, []wordfmt.Word{w}); err != nil {
		return err
	}
	e.clearThreshold = threshold
	for k, entry := range e.live {
		if k >= threshold {
			delete(e.live, k)
			e.liveWords -= capacityCost(len(entry.value))
		}
	}
	return nil
}

// Prepare performs at most one compaction step, only if words could not
// already be appended without one. Prepare(0) is always a no-op (see
// SPEC_FULL.md §9's Open Question resolution).
func (e *Engine) Prepare(words int) error {
	if words <= 0 {
		return nil
	}
	if e.win.t+uint64(words)-e.win.h <= uint64(e.geo.V) {
		return nil
	}
	return e.compactionStep()
}
