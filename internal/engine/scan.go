package engine

import "github.com/flashkv/store/internal/wordfmt"

// liveEntry is a single key's winning (highest virtual address) header
// found during a scan.
type liveEntry struct {
	addr  uint64
	value []byte
}

// repairSpan names a run of virtual-address words that must be converted to
// Padding because they are the un-reclaimable remnant of an interrupted
// append: a header whose claimed value words are not all present, or a
// TxMarker whose announced updates did not all land.
type repairSpan struct {
	start uint64
	n     int
}

// scanResult is the outcome of walking the window's live address range
// once.
type scanResult struct {
	live           map[uint16]liveEntry
	clearThreshold uint16 // wordfmt-style "min key still kept"; MaxClearThresholdNone if no Clear seen
	tail           uint64 // first fully-committed, uncorrupted tail position
	repairs        []repairSpan
}

// MaxClearThresholdNone marks "no Clear entry has been seen"; every key is
// kept.
const MaxClearThresholdNone = wordfmt.MaxClearThreshold + 1

// maxValueWords is the largest word count a legitimately pending,
// not-yet-claimed value run can ever reach: the word-aligned maximum value
// size. A pending run longer than this cannot be waiting on a header still
// to come — it is corruption.
const maxValueWords = (wordfmt.MaxValueBytes + 3) / 4

// scanWindow walks virtual addresses [from, limit) and reconstructs the
// live key set, the effective clear threshold, and the true tail: the
// point up to which every word represents a fully, validly written entry.
//
// The scanner keeps a small pending buffer of raw words it has read but not
// yet attributed to an entry. A Header word claims the immediately
// preceding pending words as its value (Insert always writes the value
// words first and the header last, so the header's checksum becoming
// valid is the sole commit signal — see writeHeaderAndValue in engine.go).
// Any words left in the pending buffer when scanning stops (because it hit
// an erased word or a corrupt one) are the remnant of an interrupted
// insert and are reported as a repair span.
func scanWindow(w *Window, from, limit uint64) (*scanResult, error) {
	res := &scanResult{
		live:           make(map[uint16]liveEntry),
		clearThreshold: MaxClearThresholdNone,
	}

	pos := from
	pendingStart := from
	var pending []wordfmt.Word

	flushOrphans := func(upTo uint64) {
		if len(pending) > 0 {
			res.repairs = append(res.repairs, repairSpan{start: pendingStart, n: len(pending)})
		}
		pending = pending[:0]
		pendingStart = upTo
	}

	for pos < limit {
		word, err := w.readWord(pos)
		if err != nil {
			return nil, err
		}
		if word == wordfmt.Erased {
			break
		}
		if wordfmt.IsPadding(word) {
			flushOrphans(pos + 1)
			pos++
			continue
		}

		// A word that does not verify as any kind's checksum cannot yet be
		// told apart from a value word still waiting to be claimed by a
		// header further along (Insert writes value words before its
		// header — see the doc comment above). Only a pending run far
		// longer than any legal value (maxValueWords) proves corruption.
		switch wordfmt.Classify(word) {
		case wordfmt.KindHeader:
			if h, ok := wordfmt.DecodeHeader(word); ok {
				wc := h.WordCount()
				if wc <= len(pending) {
					valueWords := pending[len(pending)-wc:]
					value := wordsToBytes(valueWords, int(h.ByteLen))
					if !h.Deleted {
						if cur, exists := res.live[h.Key]; !exists || pos > cur.addr {
							res.live[h.Key] = liveEntry{addr: pos, value: value}
						}
					} else {
						delete(res.live, h.Key)
					}
					pending = pending[:0]
					pendingStart = pos + 1
					pos++
					continue
				}
			}
		case wordfmt.KindRemove:
			if key, ok := wordfmt.DecodeRemove(word); ok {
				delete(res.live, key)
				pending = pending[:0]
				pendingStart = pos + 1
				pos++
				continue
			}
		case wordfmt.KindErase:
			if _, ok := wordfmt.DecodeErase(word); ok {
				pending = pending[:0]
				pendingStart = pos + 1
				pos++
				continue
			}
		case wordfmt.KindClear:
			if th, ok := wordfmt.DecodeClear(word); ok {
				res.clearThreshold = th
				pending = pending[:0]
				pendingStart = pos + 1
				pos++
				continue
			}
		case wordfmt.KindTxMarker:
			if count, ok := wordfmt.DecodeTxMarker(word); ok {
				applied, consumed, ok := scanTransaction(w, pos+1, limit, count)
				if ok {
					for k, v := range applied.set {
						res.live[k] = v
					}
					for k := range applied.removed {
						delete(res.live, k)
					}
					pending = pending[:0]
					pos += 1 + consumed
					pendingStart = pos
					continue
				}
			}
		}

		// Not a valid control word: it joins the pending value buffer.
		pending = append(pending, word)
		pos++
		if len(pending) > maxValueWords {
			pos = pendingStart
			break
		}
	}
	if len(pending) > 0 {
		res.repairs = append(res.repairs, repairSpan{start: pendingStart, n: len(pending)})
		pos = pendingStart
	}

	// Re-filter live entries against the clear threshold discovered
	// anywhere in the scanned range: the most recent Clear wins regardless
	// of whether the surviving header's address precedes or follows it.
	if res.clearThreshold != MaxClearThresholdNone {
		for k := range res.live {
			if k >= res.clearThreshold {
				delete(res.live, k)
			}
		}
	}
	res.tail = pos
	return res, nil
}

type txApplied struct {
	set     map[uint16]liveEntry
	removed map[uint16]bool
}

// scanTransaction attempts to parse exactly count update representations
// starting at pos (each an Insert's [value words..., header] or a bare
// Remove word), stopping the instant one is missing or invalid. ok is true
// only if all count updates parsed cleanly within [pos, limit).
func scanTransaction(w *Window, pos, limit uint64, count int) (txApplied, uint64, bool) {
	applied := txApplied{set: make(map[uint16]liveEntry), removed: make(map[uint16]bool)}
	var pending []wordfmt.Word
	start := pos
	done := 0
	for done < count {
		if pos >= limit {
			return applied, pos - start, false
		}
		word, err := w.readWord(pos)
		if err != nil {
			return applied, pos - start, false
		}
		if word == wordfmt.Erased {
			return applied, pos - start, false
		}
		switch wordfmt.Classify(word) {
		case wordfmt.KindHeader:
			h, ok := wordfmt.DecodeHeader(word)
			if !ok {
				return applied, pos - start, false
			}
			wc := h.WordCount()
			if wc > len(pending) {
				return applied, pos - start, false
			}
			valueWords := pending[len(pending)-wc:]
			value := wordsToBytes(valueWords, int(h.ByteLen))
			if h.Deleted {
				applied.removed[h.Key] = true
				delete(applied.set, h.Key)
			} else {
				applied.set[h.Key] = liveEntry{addr: pos, value: value}
				delete(applied.removed, h.Key)
			}
			pending = pending[:0]
			pos++
			done++
		case wordfmt.KindRemove:
			key, ok := wordfmt.DecodeRemove(word)
			if !ok {
				return applied, pos - start, false
			}
			applied.removed[key] = true
			delete(applied.set, key)
			pending = pending[:0]
			pos++
			done++
		default:
			// Any other word inside a transaction's claimed span can only
			// be a raw value word waiting to be claimed by a header later
			// in the span.
			pending = append(pending, word)
			pos++
		}
	}
	return applied, pos - start, true
}

// wordsToBytes extracts the first byteLen little-endian bytes from words.
func wordsToBytes(words []wordfmt.Word, byteLen int) []byte {
	out := make([]byte, byteLen)
	for i := 0; i < byteLen; i++ {
		w := words[i/4]
		shift := uint(8 * (i % 4))
		out[i] = byte(w >> shift)
	}
	return out
}

// bytesToWords word-aligns value into ceil(len(value)/4) little-endian
// words, zero-padding the final partial word.
func bytesToWords(value []byte) []wordfmt.Word {
	n := (len(value) + 3) / 4
	out := make([]wordfmt.Word, n)
	for i, b := range value {
		out[i/4] |= wordfmt.Word(b) << uint(8*(i%4))
	}
	return out
}
