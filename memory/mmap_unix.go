//go:build unix

package memory

import (
	stderrors "errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/handles/errors"
)

// Mmap is an Arena over an anonymous private mapping.
type Mmap struct {
	*Arena
	mapping []byte
	once    sync.Once
	err     error
}

// NewMmap maps size bytes, rounded up to the page size.
func NewMmap(size int) (*Mmap, error) {
	if size <= 0 {
		return nil, errors.ZeroSize(errors.PhaseMemory, size)
	}
	page := unix.Getpagesize()
	size = (size + page - 1) / page * page

	mapping, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.OutOfMemory(errors.PhaseMemory, size, err)
	}

	arena, err := newArena(mapping)
	if err != nil {
		_ = unix.Munmap(mapping)
		return nil, err
	}

	Logger().Debug("mapped arena", zap.Int("size", size))
	return &Mmap{Arena: arena, mapping: mapping}, nil
}

// Close unmaps the region. Slices handed out by the arena must not be
// used afterwards; Alloc and Free report an invalid state error.
// Closing twice is a no-op.
func (m *Mmap) Close() error {
	m.once.Do(func() {
		err := unix.Munmap(m.mapping)
		if err != nil && !stderrors.Is(err, unix.EINVAL) {
			m.err = errors.Wrap(errors.PhaseMemory, errors.KindInvalidState, err, "munmap")
			return
		}
		if live := m.detach(); live > 0 {
			Logger().Warn("unmapped arena with live fragments", zap.Int("live", live))
		}
		m.mapping = nil
	})
	return m.err
}
