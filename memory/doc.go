// Package memory provides the bulk memory providers behind the guarded
// allocator.
//
// A Provider hands out zeroed byte slices and takes them back. The guarded
// allocator lays its canary-framed blocks out inside those slices, so a
// provider never needs to know about handles or canaries.
//
// # Providers
//
// Heap allocates from the Go heap. Free is a no-op and the garbage
// collector reclaims the slice:
//
//	p := memory.Heap{}
//
// Arena manages a fixed region with a first-fit free list. All offsets are
// 16-byte aligned relative to the region start and adjacent free fragments
// are joined on release:
//
//	a, err := memory.NewArena(1 << 20)
//
// Mmap is an Arena over an anonymous private mapping, released with Close.
// Wasm is an Arena over the linear memory of a wazero module, for running
// tables against guest memory:
//
//	w, err := memory.NewWasm(ctx, 1<<20)
//	defer w.Close(ctx)
//
// FromConfig builds whichever provider a config.Memory selects.
package memory
