// Package store provides a persistent key-value store for NOR-flash
// storage on embedded devices.
//
// The store maps 12-bit integer keys (0..4095) to variable-length byte
// values (0..1023 bytes) atop a page-oriented flash device, with every
// mutating operation power-loss atomic: an interrupted Insert, Remove,
// Transaction, or Clear leaves the store either fully applied or fully
// unchanged, never in between.
//
// # Basic usage
//
//	dev := flashdev.NewSimDevice(256, 8) // 256 words/page, 8 pages
//	s, err := store.Open(store.Config{
//	    Device:    dev,
//	    PageWords: 256,
//	    PageCount: 8,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.Insert(42, []byte("hello")); err != nil {
//	    log.Fatal(err)
//	}
//	it := s.Iter()
//	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
//	    fmt.Println(k, string(v))
//	}
//
// # Key space conventions
//
// The core places no special meaning on any key value. Callers building a
// migration protocol on top conventionally reserve key 0 as a schema
// version marker and keys 2048..4095 as migration scratch space (see
// internal/counters and internal/namespace for two such extensions built
// entirely on the public API).
//
// # Concurrency
//
// Store is single-owner, single-threaded: it performs no internal
// locking and is not safe for concurrent use from multiple goroutines.
// Callers must serialize their own access, the same way an embedded
// flash device has exactly one owner.
package store
