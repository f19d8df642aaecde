package store

import (
	"github.com/pkg/errors"

	"github.com/flashkv/store/internal/engine"
	"github.com/flashkv/store/internal/flashdev"
)

// Sentinel errors checked with errors.Is, following the teacher's own
// pattern of exported sentinel errors in internal/storage (errors.Is/As
// at call sites) generalized to this store's taxonomy (spec.md §7).
var (
	// ErrNoCapacity means appending the operation's words, plus every
	// compaction that could be run to make room, still would not fit.
	ErrNoCapacity = engine.ErrNoCapacity
	// ErrInvalid means the request itself is malformed: an out-of-range
	// key, an oversized value, or a transaction naming one key twice.
	ErrInvalid = engine.ErrInvalid
	// ErrStorageFault means the storage driver reported an error, or
	// data failed every checksum/structural check even after recovery.
	ErrStorageFault = errors.New("store: storage fault")
)

// Device is the storage driver contract the store is built on: page-
// scoped word reads, word-range programs (each a bit-clear, never a
// bit-set), and whole-page erase. Grounded on the teacher's Pager's raw
// read/write/erase primitives, generalized from whole-page images to
// word-range granularity (spec.md §6).
type Device = flashdev.Device

// Config configures Open, mirroring the teacher's own config-struct-to-
// constructor pattern.
type Config struct {
	// Device is the backing flash device.
	Device Device
	// PageWords is P: words per physical page, including the 2 header
	// words reserved for page bookkeeping.
	PageWords int
	// PageCount is N: physical pages on the device (3..64).
	PageCount int
	// StraddleWords is M: lifetime headroom reserved so a worst-case
	// entry never straddles more pages than one bounded compaction step
	// is willing to copy. Defaults to the word count of the largest value
	// (256 words) if left zero.
	StraddleWords int
}

// Store is the open handle to one NOR-flash key-value store. It carries
// no mutex: the spec excludes concurrent multi-writer access entirely
// (spec.md §1, §5), so there is nothing for a lock to arbitrate — the
// generalization of the teacher's own locking discipline ("lock what
// must be shared, nothing otherwise") to a single-writer target.
type Store struct {
	e *engine.Engine
}

// Open derives the store's virtual-storage geometry, formats a blank
// device or derives the existing one's window from its page generation
// counters, and runs recovery to reconstruct the live key index.
func Open(cfg Config) (*Store, error) {
	if cfg.StraddleWords == 0 {
		cfg.StraddleWords = maxValueWords
	}
	e, err := engine.Open(engine.Config{
		Device:        cfg.Device,
		PageWords:     cfg.PageWords,
		PageCount:     cfg.PageCount,
		StraddleWords: cfg.StraddleWords,
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	return &Store{e: e}, nil
}

// maxValueWords is the word-aligned size of the largest legal value
// (1023 bytes), used as Config's default StraddleWords.
const maxValueWords = (1023 + 3) / 4

// Close releases no resources of its own — the caller owns Device — but
// is provided for symmetry with Open and to let a future version add
// teardown bookkeeping without an API break.
func (s *Store) Close() error {
	return nil
}

// Insert writes value under key, replacing any prior live value for the
// same key. key must be 0..4095, value must be 0..1023 bytes.
func (s *Store) Insert(key uint16, value []byte) error {
	if err := s.e.Insert(key, value); err != nil {
		return wrap(err)
	}
	return nil
}

// Remove deletes key if it is currently live. Removing an absent key is
// not an error.
func (s *Store) Remove(key uint16) error {
	if err := s.e.Remove(key); err != nil {
		return wrap(err)
	}
	return nil
}

// Transaction applies updates as a single power-loss-atomic unit: either
// every update is visible, or none are.
func (s *Store) Transaction(updates []Update) error {
	if err := s.e.Transaction(updates); err != nil {
		return wrap(err)
	}
	return nil
}

// Update is one member of a Transaction.
type Update = engine.Update

// Clear marks every key ≥ threshold as deleted. The reclaimed words are
// not physically freed until a later compaction visits their page.
func (s *Store) Clear(threshold uint16) error {
	if err := s.e.Clear(threshold); err != nil {
		return wrap(err)
	}
	return nil
}

// Prepare performs at most one compaction step, only if words could not
// already be appended without one. Prepare(0) is always a no-op.
func (s *Store) Prepare(words int) error {
	if err := s.e.Prepare(words); err != nil {
		return wrap(err)
	}
	return nil
}

// Iter returns an iterator over a stable snapshot of the currently live
// (key, value) pairs. A mutating call on s after Iter invalidates the
// iterator's results (spec.md §9).
func (s *Store) Iter() *Iterator {
	return s.e.Iter()
}

// Iterator yields (key, value) pairs from a snapshot taken by Iter.
type Iterator = engine.Iterator

// Capacity returns the number of user words that could still be written
// without exceeding the store's logical capacity.
func (s *Store) Capacity() int {
	return s.e.Capacity()
}

// Lifetime returns the number of words the device may still ever be
// written before its erase-cycle budget is exhausted.
func (s *Store) Lifetime() uint64 {
	return s.e.Lifetime()
}

func wrap(err error) error {
	switch err {
	case engine.ErrNoCapacity, engine.ErrInvalid:
		return err
	default:
		return errors.Wrap(ErrStorageFault, err.Error())
	}
}
