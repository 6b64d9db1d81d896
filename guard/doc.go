// Package guard implements the canary-guarded block allocator that backs
// every handle table.
//
// Each block is framed inside provider memory as
//
//	[ header canary | payload size | payload (rounded to 16) | footer canary ]
//
// with both canaries and the size stored little-endian. Release and Resize
// check the frame before touching it: a damaged canary, a second release,
// or a block from another allocator is reported as an invalid state error
// and the block is left alone. Released frames carry the Tombstone value
// in both canary words.
//
// Resize always relocates. The returned block replaces the old one and the
// old block is retired; its destructor moves along without running.
//
//	a := guard.New(memory.Heap{})
//	b, err := a.Allocate(64, nil)
//	if err != nil {
//		return err
//	}
//	copy(b.Bytes(), payload)
//	defer a.Release(b)
package guard
