package engine

import (
	"github.com/pkg/errors"

	"github.com/flashkv/store/internal/wordfmt"
)

// ErrNoCapacity is returned when an operation's cost cannot be satisfied
// even after compacting every reclaimable page.
var ErrNoCapacity = errors.New("engine: no capacity")

// ErrInvalid is returned for a malformed request: an out-of-range key, an
// oversized value, or a transaction naming the same key twice.
var ErrInvalid = errors.New("engine: invalid request")

// Engine is the live, in-memory-indexed view of one open store: the
// window's physical mapping plus the key→header index scan reconstructed
// at boot and maintained incrementally thereafter.
//
// Mirrors the teacher's Pager: a single struct owning both the on-device
// mapping and the in-memory index rebuilt from it, with every mutating
// method appending durably before updating the index.
type Engine struct {
	geo Geometry
	win *Window

	live           map[uint16]liveEntry
	clearThreshold uint16
	liveWords      int // sum of (1+WordCount) over every entry in live
}

// Open derives the window's physical mapping (formatting a blank device,
// or deriving the boot generation ordering from an already-written one),
// then runs recovery to reconstruct the live index and repair any
// trailing partial write. See recovery.go.
func Open(cfg Config) (*Engine, error) {
	geo, err := newGeometry(cfg)
	if err != nil {
		return nil, err
	}
	win, err := openWindow(cfg, geo)
	if err != nil {
		return nil, err
	}
	e := &Engine{geo: geo, win: win, clearThreshold: MaxClearThresholdNone}
	if err := e.recover(); err != nil {
		return nil, err
	}
	return e, nil
}

// capacityCost is the number of persistent words an Insert of this byte
// length consumes: one header word plus the word-aligned value.
func capacityCost(byteLen int) int {
	return 1 + (byteLen+3)/4
}

// appendWords reserves n words at the current tail, advances the tail and
// the lifetime counter, and returns the virtual address the caller should
// write the first of them at. It does not itself perform the device
// write — callers write via win.writeSpan at the returned address.
func (e *Engine) appendWords(n int) uint64 {
	v := e.win.t
	e.win.t += uint64(n)
	e.win.lifetimeUsed += uint64(n)
	return v
}

// ensureRoom runs compaction steps, oldest page first, until n more words
// can be appended without the window's live span exceeding its virtual
// capacity V, or returns ErrNoCapacity if UsablePages steps are not
// enough (every retained page is entirely live: there is genuinely no
// room left).
func (e *Engine) ensureRoom(n int) error {
	for i := 0; i < e.geo.UsablePages; i++ {
		if e.win.t+uint64(n)-e.win.h <= uint64(e.geo.V) {
			return nil
		}
		if err := e.compactionStep(); err != nil {
			return err
		}
	}
	if e.win.t+uint64(n)-e.win.h <= uint64(e.geo.V) {
		return nil
	}
	return ErrNoCapacity
}

// Capacity returns the number of user words that could still be written
// without exceeding logical capacity C.
func (e *Engine) Capacity() int {
	c := e.geo.C - e.liveWords
	if c < 0 {
		return 0
	}
	return c
}

// Lifetime returns the number of words the device may still ever be
// written before its erase-cycle budget (as tracked by per-page
// generation counters) is exhausted: L = ((E+1)·N − 1)·(Q−2) per
// spec.md §4.7, where E < 65536 is the largest representable erase
// count.
func (e *Engine) Lifetime() uint64 {
	const maxErase = 0xFFFF
	total := (uint64(maxErase+1)*uint64(e.geo.N) - 1) * uint64(e.geo.Q-2)
	if total <= e.win.lifetimeUsed {
		return 0
	}
	return total - e.win.lifetimeUsed
}

// writeHeaderAndValue writes value's word-aligned words followed by a
// Header word naming key — value words first, header last, so the
// header's checksum becoming valid is the sole atomic commit signal (see
// scan.go's doc comment). It returns the header's virtual address.
func (e *Engine) writeHeaderAndValue(key uint16, value []byte) (uint64, error) {
	words := bytesToWords(value)
	n := len(words) + 1
	start := e.appendWords(n)
	if len(words) > 0 {
		if err := e.win.writeSpan(start, words); err != nil {
			return 0, err
		}
	}
	headerAddr := start + uint64(len(words))
	h := wordfmt.EncodeHeader(key, uint16(len(value)))
	if err := e.win.writeSpan(headerAddr, []wordfmt.Word{h}); err != nil {
		return 0, err
	}
	return headerAddr, nil
}

// markDeleted flips the deleted bit of the header at addr — a single
// bit-clear that never invalidates the header's checksum (see
// wordfmt.MarkDeleted).
func (e *Engine) markDeleted(addr uint64) error {
	w, err := e.win.readWord(addr)
	if err != nil {
		return err
	}
	return e.win.writeSpan(addr, []wordfmt.Word{wordfmt.MarkDeleted(w)})
}

// wipeValue overwrites n value words immediately preceding a header at
// addr to all-zeros — always bit-reachable from any prior content, and
// safe because the header naming them is already (or about to be)
// deleted.
func (e *Engine) wipeValue(addr uint64, n int) error {
	if n == 0 {
		return nil
	}
	zeros := make([]wordfmt.Word, n)
	return e.win.writeSpan(addr-uint64(n), zeros)
}
