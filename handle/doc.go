// Package handle defines the opaque 64-bit handles used by every table in
// this module, and the pure functions that pack and unpack them.
//
// A handle never carries an address. It carries the slot index a resource
// occupies and the generation stamped into that slot when the handle was
// issued, plus two tag bytes that tables echo back unmodified:
//
//	bits  0-7   kind        resource type chosen by the caller
//	bits  8-15  scope       owner id, e.g. the event loop a timer belongs to
//	bits 16-39  generation  never zero for an issued handle
//	bits 40-63  index       slot position at the time of issue
//
// Encoding truncates generation and index to 24 bits. That truncation is
// deterministic; tables never issue values outside those ranges.
//
// # Validity
//
// A handle is valid only while the slot at its index is occupied and the
// value stored in that slot equals the handle exactly. Because a slot's
// generation changes every time it is reused, a stale handle never matches
// the slot's next occupant:
//
//	h := handle.Encode(kindTimer, loopID, 1, 7)
//	kind, scope, gen, idx := h.Decode()
//
// The zero value is Invalid and is never issued.
//
// # Events
//
// Tables report lifecycle transitions to Observers:
//
//	table.Subscribe(handle.ObserverFunc(func(e handle.Event) {
//	    if e.Type == handle.EventLeaked {
//	        log.Printf("leaked %s from %s", e.Handle, e.Site)
//	    }
//	}))
package handle
