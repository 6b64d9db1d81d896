package shared

import (
	"go.uber.org/zap"

	"github.com/wippyai/handles/guard"
	"github.com/wippyai/handles/memory"
)

type options struct {
	log      *zap.Logger
	alloc    *guard.Allocator
	provider memory.Provider
}

// Option configures a Table.
type Option func(*options)

// WithLogger overrides the package logger for one table.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithAllocator makes the table allocate its blocks from a.
func WithAllocator(a *guard.Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithProvider gives the table a private allocator over p.
// It is ignored when WithAllocator is also set.
func WithProvider(p memory.Provider) Option {
	return func(o *options) { o.provider = p }
}

func buildOptions(opts []Option) options {
	o := options{log: Logger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.alloc == nil {
		o.alloc = guard.New(o.provider, guard.WithLogger(o.log))
	}
	return o
}
