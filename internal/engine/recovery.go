package engine

import "github.com/flashkv/store/internal/wordfmt"

// recover reconstructs the live key index by scanning the window once at
// boot (spec.md §4.5): locate the head from the per-page generation
// counters (already done by openWindow), scan forward to the limit of
// the retained window, pad every word repairScan found left over from an
// interrupted append, and adopt the scan's tail as the window's tail.
//
// Recovery is deterministic: re-running it against the same on-device
// bytes (nothing left to repair) reproduces the same live index.
func (e *Engine) recover() error {
	h := e.win.h
	limit := h + uint64(e.geo.UsablePages)*uint64(e.geo.SlotsPerPage)

	res, err := scanWindow(e.win, h, limit)
	if err != nil {
		return err
	}

	for _, span := range res.repairs {
		if err := e.padSpan(span); err != nil {
			return err
		}
	}

	e.live = res.live
	e.clearThreshold = res.clearThreshold
	e.win.t = res.tail
	e.liveWords = 0
	for _, entry := range e.live {
		e.liveWords += capacityCost(len(entry.value))
	}
	return nil
}

// padSpan rewrites every word in span to Padding, the single monotonic
// bit-31 clear that always succeeds regardless of the word's prior
// content (spec.md §4.5 step 3/4).
func (e *Engine) padSpan(span repairSpan) error {
	for i := 0; i < span.n; i++ {
		addr := span.start + uint64(i)
		w, err := e.win.readWord(addr)
		if err != nil {
			return err
		}
		if wordfmt.IsPadding(w) || w == wordfmt.Erased {
			continue
		}
		if err := e.win.writeSpan(addr, []wordfmt.Word{wordfmt.EncodePadding(w)}); err != nil {
			return err
		}
	}
	return nil
}
