package shared

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/handles/config"
	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/guard"
	"github.com/wippyai/handles/handle"
	"github.com/wippyai/handles/internal/slot"
)

// Wait modes for Acquire.
const (
	NoWait      time.Duration = 0
	WaitForever time.Duration = -1
)

// MaxRefs is the largest reference count an entry can hold.
const MaxRefs = math.MaxUint32

// Table is a reference-counted handle table safe for concurrent use.
//
// The table lock guards the slot array, the generation counter and slot
// assignment. Each entry has its own lock guarding its block and count.
// The table lock is always taken first and is dropped before waiting on
// an entry lock; nothing takes the table lock while holding an entry lock.
type Table struct {
	slots     *slot.Array[entry]
	alloc     *guard.Allocator
	log       *zap.Logger
	observers handle.Observers
	cfg       config.Table
	mu        sync.Mutex
	gen       uint32 // last generation issued, guarded by mu
	hint      int    // guarded by mu
	occupied  atomic.Int64
	created   atomic.Uint64
	acquires  atomic.Uint64
	releases  atomic.Uint64
	destroyed atomic.Uint64
	closed    atomic.Bool
}

type entry struct {
	lock   *semaphore.Weighted
	block  *guard.Block // guarded by lock
	site   string       // guarded by lock
	handle atomic.Uint64
	refs   uint32 // guarded by lock
}

func initEntry(e *entry) {
	e.lock = semaphore.NewWeighted(1)
}

func (e *entry) unlock() { e.lock.Release(1) }

// Stats is a snapshot of table activity.
type Stats struct {
	Memory     guard.Stats
	Live       int
	Capacity   int
	Created    uint64
	Acquires   uint64
	Releases   uint64
	Destroyed  uint64
	Generation uint32
}

// New creates a table with cfg.InitialCapacity entries.
func New(cfg config.Table, opts ...Option) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slots, err := slot.New[entry](cfg.InitialCapacity, cfg.MaxCapacity)
	if err != nil {
		return nil, err
	}
	slots.Each(func(_ int, e *entry) bool {
		initEntry(e)
		return true
	})

	o := buildOptions(opts)
	return &Table{
		slots: slots,
		alloc: o.alloc,
		log:   o.log,
		cfg:   cfg,
	}, nil
}

// Create allocates a zeroed block of size bytes and returns a handle
// holding one reference, tagged with the configured kind and scope.
func (t *Table) Create(size int, d guard.Destructor) (handle.Handle, error) {
	return t.create(t.cfg.Kind, t.cfg.Scope, size, d, guard.Caller(1))
}

// CreateTagged is Create with an explicit kind and scope.
func (t *Table) CreateTagged(kind, scope uint8, size int, d guard.Destructor) (handle.Handle, error) {
	return t.create(kind, scope, size, d, guard.Caller(1))
}

func (t *Table) create(kind, scope uint8, size int, d guard.Destructor, site string) (handle.Handle, error) {
	if t.closed.Load() {
		return handle.Invalid, errors.Closed(errors.PhaseCreate)
	}

	b, err := t.alloc.AllocateAt(size, d, site)
	if err != nil {
		return handle.Invalid, err
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = t.alloc.Discard(b)
		return handle.Invalid, errors.Closed(errors.PhaseCreate)
	}

	idx := t.slots.Scan(t.hint, func(_ int, e *entry) bool { return e.handle.Load() == 0 })
	if idx < 0 {
		if !t.cfg.Growable {
			capacity := t.slots.Len()
			t.mu.Unlock()
			_ = t.alloc.Discard(b)
			return handle.Invalid, errors.TableFull(errors.PhaseCreate, capacity)
		}
		first, err := t.slots.Grow(initEntry)
		if err != nil {
			t.mu.Unlock()
			_ = t.alloc.Discard(b)
			return handle.Invalid, err
		}
		t.log.Debug("table grown", zap.Int("capacity", t.slots.Len()))
		idx = first
	}

	e := t.slots.At(idx)
	// A free entry is only ever held briefly by a finishing release or a
	// stale lookup, neither of which waits on the table lock.
	_ = e.lock.Acquire(context.Background(), 1)
	t.gen = handle.NextGeneration(t.gen)
	h := handle.Encode(kind, scope, t.gen, uint32(idx))
	e.block = b
	e.site = site
	e.refs = 1
	e.handle.Store(uint64(h))
	t.occupied.Add(1)
	e.unlock()
	t.hint = idx + 1
	t.mu.Unlock()

	t.created.Add(1)
	t.observers.Notify(handle.Event{Type: handle.EventCreated, Handle: h, Size: size, Refs: 1, Site: site})
	return h, nil
}

// lockEntry returns the entry of h with its lock held.
func (t *Table) lockEntry(ctx context.Context, h handle.Handle, timeout time.Duration, phase errors.Phase) (*entry, error) {
	if t.closed.Load() {
		return nil, errors.Closed(phase)
	}
	if h == handle.Invalid {
		return nil, errors.InvalidHandle(phase, h)
	}

	t.mu.Lock()
	e := t.slots.At(int(h.Index()))
	if e == nil || e.handle.Load() != uint64(h) {
		t.mu.Unlock()
		t.log.Warn("stale or unknown handle", zap.Stringer("handle", h), zap.String("phase", string(phase)))
		return nil, errors.InvalidHandle(phase, h)
	}
	if e.lock.TryAcquire(1) {
		t.mu.Unlock()
	} else {
		t.mu.Unlock()
		if err := t.wait(ctx, e, timeout); err != nil {
			t.log.Debug("entry lock wait failed", zap.Stringer("handle", h), zap.Error(err))
			return nil, errors.Timeout(phase, h, err)
		}
	}

	// The entry may have been released while the table lock was dropped.
	if e.handle.Load() != uint64(h) {
		e.unlock()
		t.log.Warn("handle released while waiting", zap.Stringer("handle", h), zap.String("phase", string(phase)))
		return nil, errors.InvalidHandle(phase, h)
	}
	return e, nil
}

func (t *Table) wait(ctx context.Context, e *entry, timeout time.Duration) error {
	switch {
	case timeout == NoWait:
		return context.DeadlineExceeded
	case timeout > 0:
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return e.lock.Acquire(ctx, 1)
}

// Acquire takes a reference to h and returns its payload. timeout bounds
// the wait for the entry lock: NoWait fails at once on contention and
// WaitForever waits until ctx is done. A failed wait leaves the count
// unchanged and reports a timeout error.
func (t *Table) Acquire(ctx context.Context, h handle.Handle, timeout time.Duration) ([]byte, error) {
	return t.acquire(ctx, h, timeout, errors.PhaseAcquire)
}

func (t *Table) acquire(ctx context.Context, h handle.Handle, timeout time.Duration, phase errors.Phase) ([]byte, error) {
	e, err := t.lockEntry(ctx, h, timeout, phase)
	if err != nil {
		return nil, err
	}

	switch e.refs {
	case 0:
		site := e.site
		e.unlock()
		t.log.Error("acquire of zombie entry", zap.Stringer("handle", h), zap.String("site", site))
		return nil, errors.InvalidState(phase, h, site, "entry has no references")
	case MaxRefs:
		site := e.site
		e.unlock()
		t.log.Error("reference count overflow", zap.Stringer("handle", h), zap.String("site", site))
		return nil, errors.Overflow(phase, h, site, MaxRefs)
	}

	e.refs++
	refs, data, site := e.refs, e.block.Bytes(), e.site
	e.unlock()

	t.acquires.Add(1)
	t.observers.Notify(handle.Event{Type: handle.EventAcquired, Handle: h, Size: len(data), Refs: refs, Site: site})
	return data, nil
}

// Release drops one reference to h. The last release clears the entry and
// then runs the destructor outside every lock. Releasing a handle that is
// already fully released reports an invalid handle error.
func (t *Table) Release(h handle.Handle) error {
	e, err := t.lockEntry(context.Background(), h, WaitForever, errors.PhaseRelease)
	if err != nil {
		return err
	}

	if e.refs == 0 {
		site := e.site
		t.clear(e)
		e.unlock()
		t.log.Error("double release", zap.Stringer("handle", h), zap.String("site", site))
		return errors.InvalidState(errors.PhaseRelease, h, site, "entry has no references")
	}

	e.refs--
	if e.refs > 0 {
		refs, size, site := e.refs, e.block.Len(), e.site
		e.unlock()
		t.releases.Add(1)
		t.observers.Notify(handle.Event{Type: handle.EventReleased, Handle: h, Size: size, Refs: refs, Site: site})
		return nil
	}

	b := e.block
	t.clear(e)
	e.unlock()

	t.releases.Add(1)
	t.destroyed.Add(1)
	t.observers.Notify(handle.Event{Type: handle.EventReleased, Handle: h, Size: b.Len(), Site: b.Site()})

	if err := t.alloc.Release(b); err != nil {
		t.log.Error("release failed", zap.Stringer("handle", h), zap.String("site", b.Site()), zap.Error(err))
		return err
	}
	t.observers.Notify(handle.Event{Type: handle.EventDestroyed, Handle: h, Size: b.Len(), Site: b.Site()})
	return nil
}

// clear frees an entry. The caller holds the entry lock.
func (t *Table) clear(e *entry) {
	e.block = nil
	e.site = ""
	e.refs = 0
	if e.handle.Swap(0) != 0 {
		t.occupied.Add(-1)
	}
}

// Resize changes the payload size of h. The handle stays the same and the
// contents up to the smaller size are kept. The payload moves, so slices
// returned by earlier Acquire calls must not be used afterwards. With a
// fixed region provider (arena, mmap, wasm) the old memory is handed to
// later allocations, so a stale slice then aliases another handle's
// payload.
func (t *Table) Resize(h handle.Handle, n int) error {
	if n <= 0 {
		return errors.ZeroSize(errors.PhaseResize, n)
	}
	if _, err := t.acquire(context.Background(), h, WaitForever, errors.PhaseResize); err != nil {
		return err
	}

	err := t.resize(h, n)
	return multierr.Append(err, t.Release(h))
}

func (t *Table) resize(h handle.Handle, n int) error {
	e, err := t.lockEntry(context.Background(), h, WaitForever, errors.PhaseResize)
	if err != nil {
		return err
	}
	nb, err := t.alloc.Resize(e.block, n)
	if err != nil {
		e.unlock()
		return err
	}
	e.block = nb
	refs, site := e.refs, e.site
	e.unlock()

	t.observers.Notify(handle.Event{Type: handle.EventResized, Handle: h, Size: n, Refs: refs, Site: site})
	return nil
}

// With acquires h, runs fn with its payload and always releases it again.
func (t *Table) With(ctx context.Context, h handle.Handle, timeout time.Duration, fn func([]byte) error) error {
	data, err := t.Acquire(ctx, h, timeout)
	if err != nil {
		return err
	}
	err = fn(data)
	return multierr.Append(err, t.Release(h))
}

// IsValid reports whether h refers to a live entry.
func (t *Table) IsValid(h handle.Handle) bool {
	if h == handle.Invalid || t.closed.Load() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.slots.At(int(h.Index()))
	return e != nil && e.handle.Load() == uint64(h)
}

// Len returns the number of live entries.
func (t *Table) Len() int { return int(t.occupied.Load()) }

// Cap returns the current entry count.
func (t *Table) Cap() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots.Len()
}

// Allocator returns the guarded allocator behind the table.
func (t *Table) Allocator() *guard.Allocator { return t.alloc }

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	capacity, gen := t.slots.Len(), t.gen
	t.mu.Unlock()
	return Stats{
		Memory:     t.alloc.Stats(),
		Live:       t.Len(),
		Capacity:   capacity,
		Created:    t.created.Load(),
		Acquires:   t.acquires.Load(),
		Releases:   t.releases.Load(),
		Destroyed:  t.destroyed.Load(),
		Generation: gen,
	}
}

// Subscribe registers o for lifecycle events and returns a function that
// unsubscribes it. Observers run outside the table's locks.
func (t *Table) Subscribe(o handle.Observer) (unsubscribe func()) {
	return t.observers.Add(o)
}

type leak struct {
	block  *guard.Block
	handle handle.Handle
	refs   uint32
}

// Shutdown closes the table. Every entry still live is logged as a leak
// and force-freed, running its destructor. It must not race with other
// calls on the table. Calling Shutdown again is a no-op.
func (t *Table) Shutdown() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	var leaks []leak
	t.mu.Lock()
	t.slots.Each(func(_ int, e *entry) bool {
		if e.handle.Load() == 0 {
			return true
		}
		_ = e.lock.Acquire(context.Background(), 1)
		if h := handle.Handle(e.handle.Load()); h != handle.Invalid {
			leaks = append(leaks, leak{block: e.block, handle: h, refs: e.refs})
			t.clear(e)
		}
		e.unlock()
		return true
	})
	t.mu.Unlock()

	var errs error
	for _, l := range leaks {
		t.log.Error("leaked handle",
			zap.Stringer("handle", l.handle),
			zap.Uint32("refs", l.refs),
			zap.String("site", l.block.Site()),
			zap.Int("size", l.block.Len()))
		t.observers.Notify(handle.Event{
			Type:   handle.EventLeaked,
			Handle: l.handle,
			Size:   l.block.Len(),
			Refs:   l.refs,
			Site:   l.block.Site(),
		})
		errs = multierr.Append(errs, t.alloc.Release(l.block))
	}
	return errs
}
