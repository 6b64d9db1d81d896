package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/handles/config"
	"github.com/wippyai/handles/errors"
)

// Provider supplies raw memory to the guarded allocator.
// Alloc returns zeroed memory of exactly n bytes. Free takes back a slice
// previously returned by Alloc on the same provider.
type Provider interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte) error
}

// Heap allocates from the Go heap.
type Heap struct{}

// Alloc returns a fresh zeroed slice.
func (Heap) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.ZeroSize(errors.PhaseMemory, n)
	}
	return make([]byte, n), nil
}

// Free drops the reference. The garbage collector reclaims the memory.
func (Heap) Free([]byte) error { return nil }

// FromConfig builds the provider selected by cfg.
// Providers that own OS or runtime resources must be released with Close.
func FromConfig(ctx context.Context, cfg config.Memory) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.ProviderArena:
		p, err = NewArena(cfg.Size())
	case config.ProviderMmap:
		p, err = NewMmap(cfg.Size())
	case config.ProviderWasm:
		p, err = NewWasm(ctx, cfg.Size())
	default:
		p = Heap{}
	}
	if err != nil {
		return nil, err
	}
	Logger().Debug("memory provider ready", zap.String("provider", cfg.Provider), zap.Int("size", cfg.Size()))
	return p, nil
}

// Close releases the resources held by p, if any.
func Close(ctx context.Context, p Provider) error {
	switch p := p.(type) {
	case *Mmap:
		return p.Close()
	case *Wasm:
		return p.Close(ctx)
	}
	return nil
}
