package memory

import (
	"fmt"
	"slices"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/handles/errors"
)

// Align is the alignment of every fragment handed out by an Arena.
const Align = 16

func roundUp(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}

// span is a contiguous run of the region, in bytes from its start.
type span struct {
	off  int
	size int
}

// ArenaStats is a snapshot of arena usage.
type ArenaStats struct {
	Size      int    // region size in bytes
	Used      int    // bytes held by live fragments, after rounding
	Free      int    // bytes on the free list
	Fragments int    // number of free fragments
	Live      int    // number of live fragments
	Allocs    uint64 // successful Alloc calls
	Frees     uint64 // successful Free calls
}

// Arena is a first-fit allocator over a fixed byte region.
// It is safe for concurrent use.
type Arena struct {
	region []byte
	free   []span      // sorted by offset, never adjacent
	used   map[int]int // offset -> rounded size
	allocs uint64
	frees  uint64
	closed bool
	mu     sync.Mutex
}

// NewArena creates an arena over a fresh heap region of size bytes,
// rounded up to Align.
func NewArena(size int) (*Arena, error) {
	if size <= 0 {
		return nil, errors.ZeroSize(errors.PhaseMemory, size)
	}
	return newArena(make([]byte, roundUp(size)))
}

func newArena(region []byte) (*Arena, error) {
	size := len(region) &^ (Align - 1)
	if size == 0 {
		return nil, errors.InvalidArgument(errors.PhaseMemory,
			fmt.Sprintf("region of %d bytes is smaller than one fragment", len(region)))
	}
	region = region[:size:size]
	return &Arena{
		region: region,
		free:   []span{{off: 0, size: size}},
		used:   make(map[int]int),
	}, nil
}

// Alloc returns n zeroed bytes from the first free fragment large enough.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.ZeroSize(errors.PhaseMemory, n)
	}
	size := roundUp(n)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errArenaClosed()
	}

	i := slices.IndexFunc(a.free, func(s span) bool { return s.size >= size })
	if i < 0 {
		return nil, errors.OutOfMemory(errors.PhaseMemory, n, nil)
	}

	off := a.free[i].off
	if a.free[i].size == size {
		a.free = slices.Delete(a.free, i, i+1)
	} else {
		a.free[i].off += size
		a.free[i].size -= size
	}
	a.used[off] = size
	a.allocs++

	b := a.region[off : off+size : off+size]
	clear(b)
	return b[:n:n], nil
}

// Free returns b to the arena. b must start where a slice returned by
// Alloc started; freeing a foreign or already freed slice fails with
// an invalid state error and leaves the arena untouched.
func (a *Arena) Free(b []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errArenaClosed()
	}

	off, ok := a.offset(b)
	if !ok {
		Logger().Warn("free of foreign memory", zap.Int("len", len(b)))
		return errors.InvalidState(errors.PhaseMemory, 0, "", "slice does not belong to this arena")
	}

	size, ok := a.used[off]
	if !ok {
		Logger().Warn("free of unallocated fragment", zap.Int("offset", off))
		return errors.InvalidState(errors.PhaseMemory, 0, "",
			fmt.Sprintf("no live fragment at offset %d", off))
	}
	delete(a.used, off)
	a.frees++
	a.insertFree(span{off: off, size: size})
	return nil
}

// insertFree puts s back on the free list and joins it with its
// neighbours.
func (a *Arena) insertFree(s span) {
	i, _ := slices.BinarySearchFunc(a.free, s.off, func(f span, off int) int { return f.off - off })

	if i > 0 && a.free[i-1].off+a.free[i-1].size == s.off {
		i--
		a.free[i].size += s.size
	} else {
		a.free = slices.Insert(a.free, i, s)
	}

	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
}

func (a *Arena) offset(b []byte) (int, bool) {
	if cap(b) == 0 || len(a.region) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.region)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if p < base || p >= base+uintptr(len(a.region)) {
		return 0, false
	}
	return int(p - base), true
}

// Owns reports whether b points into the arena region.
// A closed arena owns nothing.
func (a *Arena) Owns(b []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.offset(b)
	return ok
}

// Size returns the region size in bytes, or 0 once closed.
func (a *Arena) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.region)
}

// detach drops the region once its backing memory is gone. Later
// Alloc and Free calls fail instead of touching it. It returns the
// number of fragments that were still live.
func (a *Arena) detach() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	live := len(a.used)
	a.closed = true
	a.region = nil
	a.free = nil
	clear(a.used)
	return live
}

func errArenaClosed() error {
	return errors.InvalidState(errors.PhaseMemory, 0, "", "arena is closed")
}

// Stats returns a snapshot of the arena usage.
func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := ArenaStats{
		Size:      len(a.region),
		Fragments: len(a.free),
		Live:      len(a.used),
		Allocs:    a.allocs,
		Frees:     a.frees,
	}
	for _, s := range a.free {
		st.Free += s.size
	}
	st.Used = st.Size - st.Free
	return st
}
