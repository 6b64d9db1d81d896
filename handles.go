package handles

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/handles/config"
	"github.com/wippyai/handles/guard"
	"github.com/wippyai/handles/memory"
	"github.com/wippyai/handles/resource"
	"github.com/wippyai/handles/shared"
)

// Set is a shared table and an exclusive pool drawing from one guarded
// allocator over one memory provider.
type Set struct {
	Shared    *shared.Table
	Exclusive *resource.Pool
	Allocator *guard.Allocator
	provider  memory.Provider
	log       *zap.Logger
}

// Open builds a Set from cfg. A nil logger disables logging.
func Open(ctx context.Context, cfg config.File, log *zap.Logger) (*Set, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := memory.FromConfig(ctx, cfg.Memory)
	if err != nil {
		return nil, err
	}
	alloc := guard.New(provider, guard.WithLogger(log.Named("guard")))

	tbl, err := shared.New(cfg.Shared,
		shared.WithAllocator(alloc),
		shared.WithLogger(log.Named("shared")))
	if err != nil {
		return nil, multierr.Append(err, memory.Close(ctx, provider))
	}

	pool, err := resource.NewPool(cfg.Exclusive,
		resource.WithAllocator(alloc),
		resource.WithLogger(log.Named("resource")))
	if err != nil {
		return nil, multierr.Combine(err, tbl.Shutdown(), memory.Close(ctx, provider))
	}

	log.Debug("handle set opened",
		zap.String("provider", cfg.Memory.Provider),
		zap.Int("shared_capacity", tbl.Cap()),
		zap.Int("exclusive_capacity", pool.Cap()))

	return &Set{
		Shared:    tbl,
		Exclusive: pool,
		Allocator: alloc,
		provider:  provider,
		log:       log,
	}, nil
}

// Load reads the configuration at path and opens a Set from it.
// A missing file yields the defaults.
func Load(ctx context.Context, path string, log *zap.Logger) (*Set, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg, log)
}

// Close shuts down both tables, freeing and logging any leaked handles,
// then releases the memory provider.
func (s *Set) Close(ctx context.Context) error {
	err := multierr.Combine(
		s.Exclusive.Shutdown(),
		s.Shared.Shutdown(),
	)
	if st := s.Allocator.Stats(); st.Live > 0 {
		s.log.Error("blocks still live at close", zap.Int64("blocks", st.Live), zap.Int64("bytes", st.Bytes))
	}
	return multierr.Append(err, memory.Close(ctx, s.provider))
}
