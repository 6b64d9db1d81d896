package guard

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/memory"
)

// Stats is a snapshot of allocator activity.
type Stats struct {
	Live        int64  // blocks currently allocated
	Bytes       int64  // payload bytes currently allocated
	MaxBytes    int64  // high-water mark of Bytes
	Allocs      uint64 // successful Allocate calls
	Frees       uint64 // successful Release calls
	Resizes     uint64 // successful Resize calls
	Corruptions uint64 // damaged frames detected
}

// Allocator frames payloads with canaries inside provider memory.
// It is safe for concurrent use.
type Allocator struct {
	provider memory.Provider
	log      *zap.Logger

	live        atomic.Int64
	bytes       atomic.Int64
	maxBytes    atomic.Int64
	allocs      atomic.Uint64
	frees       atomic.Uint64
	resizes     atomic.Uint64
	corruptions atomic.Uint64
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger overrides the package logger for one allocator.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) { a.log = l }
}

// New creates an allocator over p. A nil provider means the Go heap.
func New(p memory.Provider, opts ...Option) *Allocator {
	if p == nil {
		p = memory.Heap{}
	}
	a := &Allocator{provider: p, log: Logger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Provider returns the memory provider behind the allocator.
func (a *Allocator) Provider() memory.Provider { return a.provider }

// Allocate returns a zeroed block of size bytes. The caller's file:line
// is recorded as the block's site.
func (a *Allocator) Allocate(size int, d Destructor) (*Block, error) {
	return a.AllocateAt(size, d, Caller(1))
}

// AllocateAt is Allocate with an explicit site, for wrappers that want
// their own caller recorded.
func (a *Allocator) AllocateAt(size int, d Destructor, site string) (*Block, error) {
	if size <= 0 {
		a.log.Warn("zero-size allocation", zap.Int("size", size), zap.String("site", site))
		return nil, errors.ZeroSize(errors.PhaseAlloc, size)
	}

	b, err := a.frame(size, d, site, errors.PhaseAlloc)
	if err != nil {
		return nil, err
	}

	a.allocs.Add(1)
	a.account(1, int64(size))
	a.log.Debug("allocated block", zap.Int("size", size), zap.String("site", site))
	return b, nil
}

func (a *Allocator) frame(size int, d Destructor, site string, phase errors.Phase) (*Block, error) {
	n := frameSize(size)
	if n < size {
		return nil, errors.OutOfMemory(phase, size, nil)
	}
	raw, err := a.provider.Alloc(n)
	if err != nil {
		a.log.Debug("provider refused allocation", zap.Int("size", size), zap.Error(err))
		return nil, errors.OutOfMemory(phase, size, err)
	}
	clear(raw)

	b := &Block{
		owner:   a,
		destroy: d,
		raw:     raw[:n:n],
		site:    site,
		size:    size,
	}
	b.writeCanaries()
	return b, nil
}

// Resize moves b into a new block of n bytes. The first min(old, n)
// payload bytes are preserved and any growth is zeroed. The destructor
// moves to the new block without running; b is retired and any later
// use of it is reported as invalid state. On error b is left live and
// unchanged.
func (a *Allocator) Resize(b *Block, n int) (*Block, error) {
	if err := a.validate(b, errors.PhaseResize); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errors.ZeroSize(errors.PhaseResize, n)
	}

	nb, err := a.frame(n, b.destroy, b.site, errors.PhaseResize)
	if err != nil {
		return nil, err
	}
	copy(nb.Bytes(), b.Bytes())

	old := b.size
	if err := a.retire(b, stateMoved); err != nil {
		// The new frame was never handed out.
		_ = a.provider.Free(nb.raw)
		return nil, err
	}

	a.resizes.Add(1)
	a.account(0, int64(n-old))
	a.log.Debug("resized block", zap.Int("from", old), zap.Int("to", n), zap.String("site", nb.site))
	return nb, nil
}

// Release validates b, runs its destructor, tombstones the frame and
// returns the memory to the provider. Corrupted, released, moved and
// foreign blocks are refused and left untouched. If the provider refuses
// the frame, b stays live without its destructor.
func (a *Allocator) Release(b *Block) error {
	if err := a.validate(b, errors.PhaseRelease); err != nil {
		return err
	}

	if d := b.destroy; d != nil {
		b.destroy = nil
		d(b.Bytes())
	}

	size := b.size
	if err := a.retire(b, stateReleased); err != nil {
		return err
	}

	a.frees.Add(1)
	a.account(-1, -int64(size))
	a.log.Debug("released block", zap.Int("size", size), zap.String("site", b.site))
	return nil
}

// Discard releases b without running its destructor. Tables use it for
// blocks that were allocated but never handed out.
func (a *Allocator) Discard(b *Block) error {
	if err := a.validate(b, errors.PhaseRelease); err != nil {
		return err
	}
	size := b.size
	if err := a.retire(b, stateReleased); err != nil {
		return err
	}
	a.frees.Add(1)
	a.account(-1, -int64(size))
	return nil
}

// IsGuarded reports whether b is a live, intact block of this allocator.
func (a *Allocator) IsGuarded(b *Block) bool {
	if b == nil || b.owner != a || b.state != stateLive || b.raw == nil {
		return false
	}
	_, _, ok := b.check()
	return ok
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		Live:        a.live.Load(),
		Bytes:       a.bytes.Load(),
		MaxBytes:    a.maxBytes.Load(),
		Allocs:      a.allocs.Load(),
		Frees:       a.frees.Load(),
		Resizes:     a.resizes.Load(),
		Corruptions: a.corruptions.Load(),
	}
}

func (a *Allocator) validate(b *Block, phase errors.Phase) error {
	if b == nil {
		return errors.InvalidArgument(phase, "nil block")
	}
	if b.owner != a {
		a.log.Error("block from another allocator", zap.String("site", b.site))
		return errors.InvalidState(phase, 0, b.site, "block belongs to another allocator")
	}
	if b.state != stateLive || b.raw == nil {
		a.log.Error("use of retired block",
			zap.Stringer("state", b.state),
			zap.String("site", b.site),
			zap.String("phase", string(phase)))
		return errors.InvalidState(phase, 0, b.site, "block already "+b.state.String())
	}
	if which, got, ok := b.check(); !ok {
		a.corruptions.Add(1)
		a.log.Error("block corruption detected",
			zap.String("canary", which),
			zap.Uint64("value", got),
			zap.String("site", b.site),
			zap.String("phase", string(phase)))
		return errors.Corrupted(phase, b.site, which, got)
	}
	return nil
}

func (a *Allocator) retire(b *Block, state blockState) error {
	b.writeTombstones()
	if err := a.provider.Free(b.raw); err != nil {
		// The provider kept the frame, so b stays live and intact.
		b.writeCanaries()
		a.log.Error("provider rejected free", zap.String("site", b.site), zap.Error(err))
		return errors.Wrap(errors.PhaseRelease, errors.KindInvalidState, err, "return frame to provider")
	}
	b.raw = nil
	b.state = state
	b.destroy = nil
	return nil
}

func (a *Allocator) account(blocks, bytes int64) {
	a.live.Add(blocks)
	cur := a.bytes.Add(bytes)
	for {
		peak := a.maxBytes.Load()
		if cur <= peak || a.maxBytes.CompareAndSwap(peak, cur) {
			return
		}
	}
}
