package flashdev

import "math/bits"

// SimDevice is an in-memory NOR-flash simulator. It enforces bit-clear-only
// program semantics and can inject torn writes and torn erases to exercise
// the engine's power-loss-atomicity properties without real hardware.
type SimDevice struct {
	pageWords int
	pages     [][]uint32

	// pendingFault, when non-nil, fires on the next ProgramWords or Erase
	// call that reaches the named page, then clears itself. It lets a test
	// simulate a crash at an exact bit or word within a single hardware
	// operation.
	pendingFault *fault
}

type fault struct {
	page        int
	maxBitClears int // ProgramWords: stop after this many total bit-clears
	maxWordsErased int // Erase: stop after this many words reset
}

// NewSimDevice creates a simulator with pageCount pages of pageWords words
// each, every word starting in the erased (all-ones) state.
func NewSimDevice(pageWords, pageCount int) *SimDevice {
	d := &SimDevice{pageWords: pageWords, pages: make([][]uint32, pageCount)}
	for i := range d.pages {
		d.pages[i] = newErasedPage(pageWords)
	}
	return d
}

func newErasedPage(n int) []uint32 {
	p := make([]uint32, n)
	for i := range p {
		p[i] = 0xFFFFFFFF
	}
	return p
}

func (d *SimDevice) PageWords() int { return d.pageWords }
func (d *SimDevice) PageCount() int { return len(d.pages) }

func (d *SimDevice) bounds(page, wordOffset, n int) error {
	if page < 0 || page >= len(d.pages) {
		return ErrOutOfRange
	}
	if wordOffset < 0 || n < 0 || wordOffset+n > d.pageWords {
		return ErrOutOfRange
	}
	return nil
}

func (d *SimDevice) ReadWords(page, wordOffset, n int) ([]uint32, error) {
	if err := d.bounds(page, wordOffset, n); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	copy(out, d.pages[page][wordOffset:wordOffset+n])
	return out, nil
}

func (d *SimDevice) ProgramWords(page, wordOffset int, words []uint32) error {
	if err := d.bounds(page, wordOffset, len(words)); err != nil {
		return err
	}
	budget := -1 // unlimited
	if f := d.pendingFault; f != nil && f.page == page && f.maxBitClears >= 0 {
		budget = f.maxBitClears
		d.pendingFault = nil
	}
	dst := d.pages[page]
	for i, target := range words {
		cur := dst[wordOffset+i]
		if cur&target != target {
			return ErrNotErased
		}
		if budget < 0 {
			dst[wordOffset+i] = target
			continue
		}
		dst[wordOffset+i] = applyBoundedClears(cur, target, &budget)
		if budget <= 0 {
			break
		}
	}
	return nil
}

// applyBoundedClears clears bits of cur toward target one at a time,
// consuming budget, and returns the resulting word once budget is
// exhausted or target is reached, whichever comes first.
func applyBoundedClears(cur, target uint32, budget *int) uint32 {
	for bit := 0; bit < 32 && *budget > 0; bit++ {
		mask := uint32(1) << uint(bit)
		if cur&mask != 0 && target&mask == 0 {
			cur &^= mask
			*budget--
		}
	}
	return cur
}

func (d *SimDevice) Erase(page int) error {
	if page < 0 || page >= len(d.pages) {
		return ErrOutOfRange
	}
	if f := d.pendingFault; f != nil && f.page == page && f.maxWordsErased >= 0 {
		n := f.maxWordsErased
		d.pendingFault = nil
		if n > d.pageWords {
			n = d.pageWords
		}
		for i := 0; i < n; i++ {
			d.pages[page][i] = 0xFFFFFFFF
		}
		return nil
	}
	d.pages[page] = newErasedPage(d.pageWords)
	return nil
}

// InjectTornWrite arranges for the next ProgramWords call addressing page
// to stop after exactly maxBitClears individual 1-to-0 bit transitions have
// been applied across the call's word range, simulating power loss
// part-way through a single program operation.
func (d *SimDevice) InjectTornWrite(page, maxBitClears int) {
	d.pendingFault = &fault{page: page, maxBitClears: maxBitClears, maxWordsErased: -1}
}

// InjectTornErase arranges for the next Erase call addressing page to reset
// only the first maxWordsErased words before power is lost.
func (d *SimDevice) InjectTornErase(page, maxWordsErased int) {
	d.pendingFault = &fault{page: page, maxBitClears: -1, maxWordsErased: maxWordsErased}
}

// PopCount is exposed for tests that want to reason about a page's live
// bit population directly.
func PopCount(w uint32) int { return bits.OnesCount32(w) }
