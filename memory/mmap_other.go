//go:build !unix

package memory

import "github.com/wippyai/handles/errors"

// Mmap is an Arena over a heap region on platforms without anonymous
// mappings.
type Mmap struct {
	*Arena
}

// NewMmap allocates size bytes from the heap.
func NewMmap(size int) (*Mmap, error) {
	if size <= 0 {
		return nil, errors.ZeroSize(errors.PhaseMemory, size)
	}
	arena, err := NewArena(size)
	if err != nil {
		return nil, err
	}
	return &Mmap{Arena: arena}, nil
}

// Close retires the arena. Alloc and Free fail afterwards.
func (m *Mmap) Close() error {
	m.detach()
	return nil
}
