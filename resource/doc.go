// Package resource provides exclusive handle pools for single-owner
// resources.
//
// A Pool belongs to one goroutine, typically an event loop, and manages
// the timers, sockets and user event sources that loop owns. It never
// locks and never counts references: a handle is live from Create until
// Destroy, and every slot keeps its own generation counter so a handle
// issued before a Destroy never matches the slot's next occupant.
//
// # Lifecycle
//
//	pool, err := resource.NewPool(config.DefaultExclusive())
//
//	// Create a zeroed 64-byte timer record
//	h, err := pool.CreateTagged(uint8(resource.KindTimer), loopID, 64, nil)
//
//	// Look it up
//	rec, err := pool.Get(h)
//
//	// Destroy it; h is now stale forever
//	err = pool.Destroy(h)
//
// Pools do not grow unless config.Table.Growable is set. A full pool
// reports an out of memory error, mirroring the fixed arrays used on
// embedded targets.
//
// # Typed Access
//
// The low byte of a handle carries its Kind:
//
//	rec, err := pool.GetTyped(h, resource.KindTimer)   // ok
//	rec, err := pool.GetTyped(h, resource.KindSocket)  // invalid handle
//
// # Observers
//
// Observers receive lifecycle events:
//
//	unsubscribe := pool.Subscribe(handle.ObserverFunc(func(e handle.Event) {
//		log.Printf("%s %s", e.Type, e.Handle)
//	}))
//	defer unsubscribe()
//
// # Shutdown
//
// Shutdown force-frees every live handle, logs each one as a leak and
// emits handle.EventLeaked. The pool rejects every later call.
package resource
