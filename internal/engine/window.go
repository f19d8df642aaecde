package engine

import (
	"fmt"

	"github.com/flashkv/store/internal/flashdev"
	"github.com/flashkv/store/internal/wordfmt"
)

// Window tracks the circular mapping from virtual address space onto the
// device's physical pages, plus the live head/tail virtual addresses.
//
// Exactly one physical page is always held fully erased, occupying logical
// slot N-1 (the page compaction will write into next); logical slots
// 0..N-2 hold the live, sealed-or-being-appended pages in oldest-to-newest
// order. The mapping from logical slot to physical page index is derived
// at boot by sorting every page's erase-generation header word, and is
// updated in lock-step by the compactor as pages are recycled.
type Window struct {
	geo Geometry
	dev flashdev.Device

	logicalToPhysical []int // len N, index = logical slot
	generation        []uint32 // len N, generation of the page at each logical slot
	nextGeneration    uint32

	h, t uint64 // head (oldest live virtual address) and tail (one past the last appended word)

	// lifetimeUsed counts every word ever appended, for Lifetime().
	lifetimeUsed uint64
}

// wordAddress converts a virtual address into the physical (page,
// wordOffset) pair a Device call needs. The logical slot is counted in
// whole pages from the head, modulo N, matching the oldest-first order of
// logicalToPhysical.
func (w *Window) wordAddress(v uint64) (page, wordOffset int) {
	vpage, offset := w.geo.split(v)
	headPage, _ := w.geo.split(w.h)
	slot := (vpage - headPage + w.geo.N) % w.geo.N
	return w.logicalToPhysical[slot], headerWords + offset
}

// readWord reads the single word at virtual address v.
func (w *Window) readWord(v uint64) (wordfmt.Word, error) {
	page, off := w.wordAddress(v)
	words, err := w.dev.ReadWords(page, off, 1)
	if err != nil {
		return 0, err
	}
	return wordfmt.Word(words[0]), nil
}

// readWords reads n consecutive virtual-address words starting at v. It
// does not cross a page boundary — callers must split multi-word spans at
// SlotsPerPage boundaries themselves (see splitSpan).
func (w *Window) readWords(v uint64, n int) ([]wordfmt.Word, error) {
	page, off := w.wordAddress(v)
	raw, err := w.dev.ReadWords(page, off, n)
	if err != nil {
		return nil, err
	}
	out := make([]wordfmt.Word, n)
	for i, x := range raw {
		out[i] = wordfmt.Word(x)
	}
	return out, nil
}

// writeWords programs n consecutive virtual-address words starting at v,
// within a single page.
func (w *Window) writeWords(v uint64, words []wordfmt.Word) error {
	page, off := w.wordAddress(v)
	raw := make([]uint32, len(words))
	for i, x := range words {
		raw[i] = uint32(x)
	}
	return w.dev.ProgramWords(page, off, raw)
}

// splitSpan breaks the virtual-address span [v, v+n) into one or more
// same-page runs, since SlotsPerPage words fit in a page but a span may
// not start at a page boundary.
func (w *Window) splitSpan(v uint64, n int) [][2]uint64 {
	var runs [][2]uint64
	per := uint64(w.geo.SlotsPerPage)
	for n > 0 {
		_, offset := w.geo.split(v)
		room := int(per) - offset
		take := n
		if take > room {
			take = room
		}
		runs = append(runs, [2]uint64{v, uint64(take)})
		v += uint64(take)
		n -= take
	}
	return runs
}

// writeSpan writes a logically contiguous run of words that may cross one
// or more page boundaries, issuing one ProgramWords call per page run.
func (w *Window) writeSpan(v uint64, words []wordfmt.Word) error {
	offset := 0
	for _, run := range w.splitSpan(v, len(words)) {
		n := int(run[1])
		if err := w.writeWords(run[0], words[offset:offset+n]); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// readSpan is the read counterpart of writeSpan.
func (w *Window) readSpan(v uint64, n int) ([]wordfmt.Word, error) {
	out := make([]wordfmt.Word, 0, n)
	for _, run := range w.splitSpan(v, n) {
		words, err := w.readWords(run[0], int(run[1]))
		if err != nil {
			return nil, err
		}
		out = append(out, words...)
	}
	return out, nil
}

// openWindow derives (or initializes, for a blank device) the logical
// slot/physical page mapping and the boot generation counter. It does not
// scan entries — that is recovery's job (see recovery.go).
func openWindow(cfg Config, geo Geometry) (*Window, error) {
	dev := cfg.Device
	type pageInfo struct {
		phys       int
		generation uint32
		blank      bool
	}
	infos := make([]pageInfo, geo.N)
	allBlank := true
	for p := 0; p < geo.N; p++ {
		hdr, err := dev.ReadWords(p, 0, headerWords)
		if err != nil {
			return nil, fmt.Errorf("engine: reading page %d header: %w", p, err)
		}
		gen := hdr[pageHeaderGeneration]
		blank := gen == 0xFFFFFFFF
		infos[p] = pageInfo{phys: p, generation: gen, blank: blank}
		if !blank {
			allBlank = false
		}
	}

	w := &Window{geo: geo, dev: dev}
	if allBlank {
		// Fresh device: erase every page and assign ascending generations
		// 0..N-1 in physical page order, giving an empty, freshly-formatted
		// window with slot s == physical page s.
		w.logicalToPhysical = make([]int, geo.N)
		w.generation = make([]uint32, geo.N)
		for p := 0; p < geo.N; p++ {
			if err := dev.Erase(p); err != nil {
				return nil, fmt.Errorf("engine: formatting page %d: %w", p, err)
			}
			if err := writePageHeader(dev, p, uint32(p), 0); err != nil {
				return nil, err
			}
			w.logicalToPhysical[p] = p
			w.generation[p] = uint32(p)
		}
		w.nextGeneration = uint32(geo.N)
		w.h, w.t = 0, 0
		return w, nil
	}

	// Sort physical pages by generation ascending: slot 0 is the oldest
	// (smallest generation), slot N-1 the newest/active page. A page that
	// is still blank (never erased since the device was formatted, which
	// should not happen once formatting above has run once, but is
	// tolerated defensively) sorts last.
	order := make([]int, geo.N)
	for i := range order {
		order[i] = i
	}
	less := func(i, j int) bool {
		pi, pj := infos[order[i]], infos[order[j]]
		if pi.blank != pj.blank {
			return pj.blank // non-blank sorts before blank
		}
		return pi.generation < pj.generation
	}
	insertionSort(order, less)

	w.logicalToPhysical = make([]int, geo.N)
	w.generation = make([]uint32, geo.N)
	maxGen := uint32(0)
	for slot, idx := range order {
		info := infos[idx]
		w.logicalToPhysical[slot] = info.phys
		w.generation[slot] = info.generation
		if !info.blank && info.generation > maxGen {
			maxGen = info.generation
		}
	}
	w.nextGeneration = maxGen + 1

	// The head of the retained window sits at the start of logical slot
	// 0's virtual range. Slot 0's page has been through generation[0]
	// erase cycles since the device was first formatted, and every
	// earlier generation retired exactly SlotsPerPage virtual words
	// (one full page) of address space ahead of it.
	w.h = uint64(w.generation[0]) * uint64(geo.SlotsPerPage)
	w.t = w.h
	return w, nil
}

func insertionSort(a []int, less func(i, j int) bool) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func writePageHeader(dev flashdev.Device, page int, generation, sequence uint32) error {
	return dev.ProgramWords(page, 0, []uint32{generation, sequence})
}
