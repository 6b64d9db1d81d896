package resource

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/handles/config"
	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/guard"
	"github.com/wippyai/handles/handle"
	"github.com/wippyai/handles/internal/slot"
)

// Pool is an exclusive handle table owned by a single goroutine, such as
// an event loop. It takes no locks and keeps no reference counts: a
// handle is live from Create until Destroy.
type Pool struct {
	slots     *slot.Array[entry]
	alloc     *guard.Allocator
	log       *zap.Logger
	observers handle.Observers
	cfg       config.Table
	hint      int
	live      int
	created   uint64
	destroyed uint64
	closed    bool
}

type entry struct {
	block  *guard.Block
	handle handle.Handle
	gen    uint32 // last generation issued at this index
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Memory    guard.Stats
	Live      int
	Capacity  int
	Created   uint64
	Destroyed uint64
}

// NewPool creates a pool with cfg.InitialCapacity slots.
func NewPool(cfg config.Table, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slots, err := slot.New[entry](cfg.InitialCapacity, cfg.MaxCapacity)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &Pool{
		slots: slots,
		alloc: o.alloc,
		log:   o.log,
		cfg:   cfg,
	}, nil
}

// Create allocates a zeroed block of size bytes and returns its handle,
// tagged with the configured kind and scope.
func (p *Pool) Create(size int, d guard.Destructor) (handle.Handle, error) {
	return p.create(p.cfg.Kind, p.cfg.Scope, size, d, guard.Caller(1))
}

// CreateTagged is Create with an explicit kind and scope.
func (p *Pool) CreateTagged(kind, scope uint8, size int, d guard.Destructor) (handle.Handle, error) {
	return p.create(kind, scope, size, d, guard.Caller(1))
}

func (p *Pool) create(kind, scope uint8, size int, d guard.Destructor, site string) (handle.Handle, error) {
	if p.closed {
		return handle.Invalid, errors.Closed(errors.PhaseCreate)
	}

	idx := p.slots.Scan(p.hint, func(_ int, e *entry) bool { return e.block == nil })
	if idx < 0 {
		if !p.cfg.Growable {
			p.log.Debug("pool full", zap.Int("capacity", p.slots.Len()))
			return handle.Invalid, errors.TableFull(errors.PhaseCreate, p.slots.Len())
		}
		first, err := p.slots.Grow(nil)
		if err != nil {
			return handle.Invalid, err
		}
		p.log.Debug("pool grown", zap.Int("capacity", p.slots.Len()))
		idx = first
	}

	b, err := p.alloc.AllocateAt(size, d, site)
	if err != nil {
		return handle.Invalid, err
	}

	e := p.slots.At(idx)
	e.gen = handle.NextGeneration(e.gen)
	e.handle = handle.Encode(kind, scope, e.gen, uint32(idx))
	e.block = b
	p.live++
	p.created++
	p.hint = idx + 1

	p.observers.Notify(handle.Event{Type: handle.EventCreated, Handle: e.handle, Size: size, Site: site})
	return e.handle, nil
}

func (p *Pool) lookup(h handle.Handle, phase errors.Phase) (*entry, error) {
	if p.closed {
		return nil, errors.Closed(phase)
	}
	e := p.slots.At(int(h.Index()))
	if h == handle.Invalid || e == nil || e.block == nil || e.handle != h {
		p.log.Warn("stale or unknown handle", zap.Stringer("handle", h), zap.String("phase", string(phase)))
		return nil, errors.InvalidHandle(phase, h)
	}
	return e, nil
}

// Get returns the payload of h.
func (p *Pool) Get(h handle.Handle) ([]byte, error) {
	e, err := p.lookup(h, errors.PhaseLookup)
	if err != nil {
		return nil, err
	}
	return e.block.Bytes(), nil
}

// GetTyped returns the payload of h only if h carries kind.
func (p *Pool) GetTyped(h handle.Handle, kind Kind) ([]byte, error) {
	if KindOf(h) != kind {
		return nil, errors.New(errors.PhaseLookup, errors.KindInvalidHandle).
			Handle(h).
			Detail("kind %s, want %s", KindOf(h), kind).
			Build()
	}
	return p.Get(h)
}

// IsValid reports whether h refers to a live slot.
func (p *Pool) IsValid(h handle.Handle) bool {
	if p.closed || h == handle.Invalid {
		return false
	}
	e := p.slots.At(int(h.Index()))
	return e != nil && e.block != nil && e.handle == h
}

// Destroy frees the slot of h and runs its destructor. The slot keeps its
// generation, so the next handle issued at that index differs from h.
func (p *Pool) Destroy(h handle.Handle) error {
	e, err := p.lookup(h, errors.PhaseDestroy)
	if err != nil {
		return err
	}

	b := e.block
	e.block = nil
	e.handle = handle.Invalid
	p.live--
	p.destroyed++
	p.hint = int(h.Index())

	p.observers.Notify(handle.Event{Type: handle.EventDestroyed, Handle: h, Size: b.Len(), Site: b.Site()})

	if err := p.alloc.Release(b); err != nil {
		p.log.Error("release failed", zap.Stringer("handle", h), zap.String("site", b.Site()), zap.Error(err))
		return err
	}
	return nil
}

// Resize changes the payload size of h. The handle stays the same; the
// payload may move, so slices from earlier Get calls must not be reused.
func (p *Pool) Resize(h handle.Handle, n int) error {
	e, err := p.lookup(h, errors.PhaseResize)
	if err != nil {
		return err
	}
	nb, err := p.alloc.Resize(e.block, n)
	if err != nil {
		return err
	}
	e.block = nb

	p.observers.Notify(handle.Event{Type: handle.EventResized, Handle: h, Size: n, Site: nb.Site()})
	return nil
}

// Each calls fn for every live handle in index order until fn returns false.
func (p *Pool) Each(fn func(handle.Handle, []byte) bool) {
	if p.closed {
		return
	}
	p.slots.Each(func(_ int, e *entry) bool {
		if e.block == nil {
			return true
		}
		return fn(e.handle, e.block.Bytes())
	})
}

// Len returns the number of live handles.
func (p *Pool) Len() int { return p.live }

// Cap returns the current slot count.
func (p *Pool) Cap() int { return p.slots.Len() }

// Allocator returns the guarded allocator behind the pool.
func (p *Pool) Allocator() *guard.Allocator { return p.alloc }

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Memory:    p.alloc.Stats(),
		Live:      p.live,
		Capacity:  p.slots.Len(),
		Created:   p.created,
		Destroyed: p.destroyed,
	}
}

// Subscribe registers o for lifecycle events and returns a function that
// unsubscribes it.
func (p *Pool) Subscribe(o handle.Observer) (unsubscribe func()) {
	return p.observers.Add(o)
}

// Shutdown closes the pool. Every handle still live is logged as a leak
// and force-freed. Later calls on the pool fail with an invalid state
// error; calling Shutdown again is a no-op.
func (p *Pool) Shutdown() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs error
	p.slots.Each(func(_ int, e *entry) bool {
		if e.block == nil {
			return true
		}
		b, h := e.block, e.handle
		e.block = nil
		e.handle = handle.Invalid
		p.live--

		p.log.Error("leaked handle",
			zap.Stringer("handle", h),
			zap.String("site", b.Site()),
			zap.Int("size", b.Len()))
		p.observers.Notify(handle.Event{Type: handle.EventLeaked, Handle: h, Size: b.Len(), Site: b.Site()})

		errs = multierr.Append(errs, p.alloc.Release(b))
		return true
	})
	return errs
}
