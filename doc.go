// Package handles provides generation-protected handle tables backed by a
// canary-guarded allocator.
//
// Long-lived resources are never referenced by address. Each one lives in
// a slot of an append-only table and is named by a 64-bit handle carrying
// the slot index and a generation. A handle presented after its resource
// is gone no longer matches the slot and is rejected, even when the slot
// has been reused.
//
// # Architecture Overview
//
//	handles/            Set: both table modes built from one configuration
//	├── handle/         64-bit handle codec and lifecycle events
//	├── guard/          Canary-guarded block allocator
//	├── memory/         Bulk memory providers (heap, arena, mmap, wasm)
//	├── resource/       Exclusive pools for single-owner resources
//	├── shared/         Reference-counted tables for concurrent use
//	├── config/         Table and provider configuration
//	└── errors/         Structured error types
//
// # Quick Start
//
//	set, err := handles.Open(ctx, config.Default(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer set.Close(ctx)
//
//	h, err := set.Shared.Create(64, nil)
//	buf, err := set.Shared.Acquire(ctx, h, shared.WaitForever)
//	...
//	set.Shared.Release(h)
//
// # Ownership Modes
//
// resource.Pool is for resources owned by one goroutine, such as the
// timers and sockets of an event loop. It takes no locks, keeps one
// generation counter per slot and does not grow unless configured to.
//
// shared.Table is for resources passed between goroutines. Every entry
// has a reference count and its own lock; the destructor runs once the
// last reference is released.
//
// # Error Handling
//
// All errors are *errors.Error values carrying a Phase and Kind:
//
//	if errors.Is(err, errors.ErrInvalidHandle) {
//	    // stale or forged handle
//	}
package handles
