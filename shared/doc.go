// Package shared provides the reference-counted handle table for resources
// used by several goroutines at once.
//
// Create returns a handle holding one reference. Acquire adds a reference
// and returns the payload; Release drops one. The destructor runs exactly
// once, after the last reference is gone, and the handle is invalid from
// then on even if its slot is reused.
//
//	tbl, err := shared.New(config.DefaultShared())
//	h, err := tbl.Create(64, nil)
//
//	buf, err := tbl.Acquire(ctx, h, shared.WaitForever)
//	copy(buf, frame)
//	tbl.Release(h) // the Acquire
//	tbl.Release(h) // the Create; the block is freed here
//
// With wraps an acquire and its release around a function:
//
//	err := tbl.With(ctx, h, 50*time.Millisecond, func(buf []byte) error {
//		return decode(buf)
//	})
//
// # Locking
//
// The table lock covers slot assignment, growth and lookup. Each entry
// has its own lock for its count and payload pointer. Lookups take the
// table lock, try the entry lock, and drop the table lock before waiting
// on a busy entry, so a slow holder never stalls the whole table. After
// the wait the handle is checked again.
//
// Every handle issued by a table carries a generation from one counter
// shared by all slots. The table grows by doubling and never moves an
// entry, so issued handles stay valid across growth.
package shared
