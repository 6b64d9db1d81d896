package guard

import (
	"bytes"
	"encoding/binary"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/memory"
)

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := errors.KindOf(err)
	require.True(t, ok, "not a structured error: %v", err)
	require.Equal(t, kind, got)
}

func TestAllocate(t *testing.T) {
	a := New(nil)

	b, err := a.Allocate(40, nil)
	require.NoError(t, err)
	require.Equal(t, 40, b.Len())
	require.Len(t, b.Bytes(), 40)
	require.Equal(t, 40, cap(b.Bytes()))
	require.Equal(t, make([]byte, 40), b.Bytes())
	require.True(t, strings.HasPrefix(b.Site(), "allocator_test.go:"), "site = %q", b.Site())
	require.True(t, a.IsGuarded(b))

	require.Equal(t, HeaderCanary, binary.LittleEndian.Uint64(b.raw[0:]))
	require.Equal(t, uint64(40), binary.LittleEndian.Uint64(b.raw[8:]))
	require.Equal(t, FooterCanary, binary.LittleEndian.Uint64(b.raw[headerSize+48:]))
	require.Len(t, b.raw, frameSize(40))
}

func TestAllocate_ZeroSize(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a := New(nil, WithLogger(zap.New(core)))

	for _, n := range []int{0, -1} {
		_, err := a.Allocate(n, nil)
		requireKind(t, err, errors.KindInvalidArgument)
	}
	require.Equal(t, 2, logs.FilterMessage("zero-size allocation").Len())
	require.Zero(t, a.Stats().Allocs)
}

func TestAllocate_OutOfMemory(t *testing.T) {
	arena, err := memory.NewArena(256)
	require.NoError(t, err)
	a := New(arena)

	_, err = a.Allocate(1024, nil)
	requireKind(t, err, errors.KindOutOfMemory)
	require.ErrorIs(t, err, errors.ErrOutOfMemory)
}

func TestRelease_RunsDestructorOnce(t *testing.T) {
	a := New(nil)

	var calls int
	var seen []byte
	b, err := a.Allocate(4, func(p []byte) {
		calls++
		seen = append([]byte(nil), p...)
	})
	require.NoError(t, err)
	copy(b.Bytes(), "ptk!")

	raw := b.raw
	require.NoError(t, a.Release(b))
	require.Equal(t, 1, calls)
	require.Equal(t, "ptk!", string(seen))
	require.Nil(t, b.Bytes())
	require.False(t, a.IsGuarded(b))

	require.Equal(t, Tombstone, binary.LittleEndian.Uint64(raw[0:]))
	require.Equal(t, Tombstone, binary.LittleEndian.Uint64(raw[headerSize+16:]))

	err = a.Release(b)
	requireKind(t, err, errors.KindInvalidState)
	require.Equal(t, 1, calls, "destructor ran twice")
}

func TestRelease_Corruption(t *testing.T) {
	tests := []struct {
		damage func(b *Block)
		name   string
		canary string
	}{
		{name: "header", canary: "header", damage: func(b *Block) { b.raw[0] ^= 0xFF }},
		{name: "size", canary: "size", damage: func(b *Block) { b.raw[8]++ }},
		{name: "footer overrun", canary: "footer", damage: func(b *Block) { b.raw[b.footerOffset()] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.ErrorLevel)
			a := New(nil, WithLogger(zap.New(core)))

			var destroyed bool
			b, err := a.Allocate(24, func([]byte) { destroyed = true })
			require.NoError(t, err)
			tt.damage(b)

			require.False(t, a.IsGuarded(b))
			err = a.Release(b)
			requireKind(t, err, errors.KindInvalidState)
			require.Contains(t, err.Error(), tt.canary)
			require.False(t, destroyed)
			require.NotNil(t, b.raw, "corrupted block must be left alone")

			entries := logs.FilterMessage("block corruption detected").All()
			require.Len(t, entries, 1)
			require.Equal(t, tt.canary, entries[0].ContextMap()["canary"])
			require.Equal(t, uint64(1), a.Stats().Corruptions)
		})
	}
}

func TestRelease_ForeignBlock(t *testing.T) {
	a, other := New(nil), New(nil)
	b, err := other.Allocate(8, nil)
	require.NoError(t, err)

	requireKind(t, a.Release(b), errors.KindInvalidState)
	require.False(t, a.IsGuarded(b))
	require.True(t, other.IsGuarded(b))

	requireKind(t, a.Release(nil), errors.KindInvalidArgument)
	require.False(t, a.IsGuarded(nil))
}

func TestResize(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
	}{
		{name: "grow", from: 8, to: 100},
		{name: "shrink", from: 100, to: 8},
		{name: "same", from: 32, to: 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(nil)
			var calls int
			b, err := a.Allocate(tt.from, func([]byte) { calls++ })
			require.NoError(t, err)
			for i := range b.Bytes() {
				b.Bytes()[i] = byte(i + 1)
			}
			want := append([]byte(nil), b.Bytes()[:min(tt.from, tt.to)]...)

			nb, err := a.Resize(b, tt.to)
			require.NoError(t, err)
			require.Equal(t, tt.to, nb.Len())
			require.Equal(t, want, nb.Bytes()[:len(want)])
			if tt.to > tt.from {
				require.True(t, bytes.Equal(make([]byte, tt.to-tt.from), nb.Bytes()[tt.from:]))
			}
			require.Equal(t, b.Site(), nb.Site())
			require.Zero(t, calls, "destructor must not run on move")

			requireKind(t, a.Release(b), errors.KindInvalidState)
			_, err = a.Resize(b, 4)
			requireKind(t, err, errors.KindInvalidState)

			require.NoError(t, a.Release(nb))
			require.Equal(t, 1, calls)
		})
	}
}

func TestResize_InvalidSize(t *testing.T) {
	a := New(nil)
	b, err := a.Allocate(8, nil)
	require.NoError(t, err)

	_, err = a.Resize(b, 0)
	requireKind(t, err, errors.KindInvalidArgument)
	require.True(t, a.IsGuarded(b), "failed resize must keep the block")
}

func TestStats(t *testing.T) {
	arena, err := memory.NewArena(4096)
	require.NoError(t, err)
	a := New(arena)

	b1, err := a.Allocate(100, nil)
	require.NoError(t, err)
	b2, err := a.Allocate(50, nil)
	require.NoError(t, err)
	b2, err = a.Resize(b2, 200)
	require.NoError(t, err)
	require.NoError(t, a.Release(b1))

	want := Stats{Live: 1, Bytes: 200, MaxBytes: 300, Allocs: 2, Frees: 1, Resizes: 1}
	if diff := cmp.Diff(want, a.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, a.Release(b2))
	st := arena.Stats()
	require.Zero(t, st.Live)
	require.Equal(t, st.Size, st.Free)
}

func TestAllocator_Concurrent(t *testing.T) {
	arena, err := memory.NewArena(1 << 20)
	require.NoError(t, err)
	a := New(arena)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b, err := a.Allocate(16+g, nil)
				if err != nil {
					t.Error(err)
					return
				}
				b, err = a.Resize(b, 64)
				if err != nil {
					t.Error(err)
					return
				}
				if err := a.Release(b); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	st := a.Stats()
	require.Zero(t, st.Live)
	require.Zero(t, st.Bytes)
	require.Equal(t, uint64(800), st.Allocs)
	require.Equal(t, uint64(800), st.Frees)
}

// refusingProvider serves from the heap but refuses every free while
// refuse is set.
type refusingProvider struct {
	memory.Heap
	refuse bool
}

func (p *refusingProvider) Free(b []byte) error {
	if p.refuse {
		return errors.InvalidState(errors.PhaseMemory, 0, "", "free refused")
	}
	return p.Heap.Free(b)
}

func TestResize_ProviderRefusesFree(t *testing.T) {
	p := &refusingProvider{}
	a := New(p)
	calls := 0
	b, err := a.Allocate(8, func([]byte) { calls++ })
	require.NoError(t, err)
	copy(b.Bytes(), "keepme!!")

	p.refuse = true
	_, err = a.Resize(b, 32)
	requireKind(t, err, errors.KindInvalidState)

	require.True(t, a.IsGuarded(b), "old block must stay live")
	require.Equal(t, "keepme!!", string(b.Bytes()))
	require.Equal(t, int64(1), a.Stats().Live)

	p.refuse = false
	require.NoError(t, a.Release(b))
	require.Equal(t, 1, calls)
	require.Zero(t, a.Stats().Live)
}

func TestRelease_ProviderRefusesFree(t *testing.T) {
	p := &refusingProvider{refuse: true}
	a := New(p)
	calls := 0
	b, err := a.Allocate(8, func([]byte) { calls++ })
	require.NoError(t, err)

	requireKind(t, a.Release(b), errors.KindInvalidState)
	require.Equal(t, 1, calls)
	require.True(t, a.IsGuarded(b))

	p.refuse = false
	require.NoError(t, a.Release(b))
	require.Equal(t, 1, calls, "destructor ran twice")
}

func TestDiscard_SkipsDestructor(t *testing.T) {
	a := New(nil)
	called := false
	b, err := a.Allocate(8, func([]byte) { called = true })
	require.NoError(t, err)

	require.NoError(t, a.Discard(b))
	require.False(t, called)
	require.Zero(t, a.Stats().Live)
	requireKind(t, a.Discard(b), errors.KindInvalidState)
}
