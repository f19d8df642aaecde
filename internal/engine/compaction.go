package engine

import "github.com/flashkv/store/internal/wordfmt"

// compactionStep advances the window by exactly one virtual page
// (spec.md §4.3): it names the oldest retained page for recycling, copies
// every still-live entry whose header currently lives in that page
// forward to the tail, erases the page, and folds it back in as the
// fresh tail page with a new erase generation.
//
// Each of the five steps below is individually a single durable append or
// a single monotonic word write. Recovery has no step that resumes an
// interrupted compaction: scanWindow skips Erase words, and a copy that
// already reached the tail wins over its original by later virtual
// address.
func (e *Engine) compactionStep() error {
	oldestSlot := 0
	physPage := e.win.logicalToPhysical[oldestSlot]
	pageStart := e.win.h
	pageEnd := pageStart + uint64(e.geo.SlotsPerPage)

	// Step 1: announce the page being recycled.
	eraseAddr := e.appendWords(1)
	eraseWord := wordfmt.EncodeErase(physPage)
	if err := e.win.writeSpan(eraseAddr, []wordfmt.Word{eraseWord}); err != nil {
		return err
	}

	// Step 2: re-append every entry whose header currently sits in the
	// page being retired. Compaction does not change which keys are
	// live, only where their headers physically live.
	for key, entry := range e.live {
		if entry.addr < pageStart || entry.addr >= pageEnd {
			continue
		}
		newAddr, err := e.writeHeaderAndValue(key, entry.value)
		if err != nil {
			return err
		}
		e.live[key] = liveEntry{addr: newAddr, value: entry.value}
	}

	// Step 3 (spec.md's "write the compaction-target word") is folded
	// into step 4 below: writePageHeader sets both the fresh generation
	// and the sequence word in the same call once the page is actually
	// erased, since NOR's bit-clear-only contract means a page header
	// word written once at format/erase time (pageHeaderSequence is
	// always 0 immediately after erase — see window.go) cannot be
	// reprogrammed again before the next erase.

	// Step 4: physically erase the retired page and fold it back in as
	// the new tail page with a fresh erase generation.
	if err := e.win.dev.Erase(physPage); err != nil {
		return err
	}
	newGen := e.win.nextGeneration
	e.win.nextGeneration++
	if err := writePageHeader(e.win.dev, physPage, newGen, 0); err != nil {
		return err
	}
	copy(e.win.logicalToPhysical, e.win.logicalToPhysical[1:])
	copy(e.win.generation, e.win.generation[1:])
	e.win.logicalToPhysical[e.geo.N-1] = physPage
	e.win.generation[e.geo.N-1] = newGen

	// Step 5: the window now starts one page later.
	e.win.h = pageEnd
	return nil
}
