package engine

import "github.com/flashkv/store/internal/wordfmt"

// Update is one member of a Transaction: either an Insert (Remove false)
// or a Remove (Remove true, Value ignored).
type Update struct {
	Key    uint16
	Value  []byte
	Remove bool
}

// Transaction applies updates as a single power-loss-atomic unit
// (spec.md §4.4). A single-update transaction dispatches directly to
// Insert/Remove — no marker is needed, since there is nothing to
// distinguish "partially applied" from "not yet applied" when there is
// only one update. A transaction of two or more updates appends a
// TxMarker announcing the count, then each update's own representation
// in order; only once every announced update is present and checksum-
// valid on a scan does recovery treat the transaction as committed (see
// scanTransaction in scan.go). The deletion of any header being replaced
// happens last, after every new header has reached flash.
func (e *Engine) Transaction(updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	seen := make(map[uint16]bool, len(updates))
	for _, u := range updates {
		if u.Key > wordfmt.MaxKey {
			return ErrInvalid
		}
		if !u.Remove && len(u.Value) > wordfmt.MaxValueBytes {
			return ErrInvalid
		}
		if seen[u.Key] {
			return ErrInvalid
		}
		seen[u.Key] = true
	}
	if len(updates) == 1 {
		u := updates[0]
		if u.Remove {
			return e.Remove(u.Key)
		}
		return e.Insert(u.Key, u.Value)
	}

	cost := 1 // TxMarker
	newCost := 0
	freedCost := 0
	for _, u := range updates {
		if u.Remove {
			cost++
		} else {
			cost += capacityCost(len(u.Value))
			newCost += capacityCost(len(u.Value))
		}
		if prev, ok := e.live[u.Key]; ok {
			freedCost += capacityCost(len(prev.value))
		}
	}
	if newCost-freedCost > e.Capacity() {
		return ErrNoCapacity
	}
	if err := e.ensureRoom(cost); err != nil {
		return err
	}

	markerAddr := e.appendWords(1)
	marker := wordfmt.EncodeTxMarker(len(updates))
	if err := e.win.writeSpan(markerAddr, []wordfmt.Word{marker}); err != nil {
		return err
	}

	type pendingReplace struct {
		key  uint16
		addr uint64
		size int
	}
	var replaces []pendingReplace
	newEntries := make(map[uint16]liveEntry, len(updates))
	removed := make(map[uint16]bool, len(updates))

	for _, u := range updates {
		if u.Remove {
			addr := e.appendWords(1)
			w := wordfmt.EncodeRemove(u.Key)
			if err := e.win.writeSpan(addr, []wordfmt.Word{w}); err != nil {
				return err
			}
			removed[u.Key] = true
			continue
		}
		addr, err := e.writeHeaderAndValue(u.Key, u.Value)
		if err != nil {
			return err
		}
		if prev, ok := e.live[u.Key]; ok {
			replaces = append(replaces, pendingReplace{key: u.Key, addr: prev.addr, size: len(prev.value)})
		}
		newEntries[u.Key] = liveEntry{addr: addr, value: append([]byte(nil), u.Value...)}
	}

	// Commit is already durable (every announced update is on flash);
	// the old headers' deletions below are clean-up that recovery
	// would otherwise complete deterministically next boot.
	for _, r := range replaces {
		if err := e.markDeleted(r.addr); err != nil {
			return err
		}
		e.liveWords -= capacityCost(r.size)
	}
	for key := range removed {
		if prev, ok := e.live[key]; ok {
			n := (len(prev.value) + 3) / 4
			if err := e.markDeleted(prev.addr); err != nil {
				return err
			}
			if err := e.wipeValue(prev.addr, n); err != nil {
				return err
			}
			e.liveWords -= capacityCost(len(prev.value))
			delete(e.live, key)
		}
	}
	for key, entry := range newEntries {
		e.live[key] = entry
		e.liveWords += capacityCost(len(entry.value))
	}
	return nil
}
