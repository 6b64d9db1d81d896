// Package slot provides append-only, chunked storage for table entries.
//
// An Array starts with one chunk of the initial capacity. Every Grow
// appends a chunk as large as the current capacity, doubling it. Elements
// never move, so pointers returned by At stay valid for the life of the
// array and an index, once handed out, always names the same element.
package slot

import (
	"fmt"
	"math/bits"

	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/handle"
)

// Array is a growable sequence of elements with stable addresses.
// It is not safe for concurrent use; tables guard it with their own lock.
type Array[E any] struct {
	chunks  [][]E
	initial int
	max     int
	n       int
}

// New creates an array of initial elements that may grow up to max.
// A max of zero means the full handle index space.
func New[E any](initial, max int) (*Array[E], error) {
	if initial <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseLifecycle,
			fmt.Sprintf("initial capacity must be positive, got %d", initial))
	}
	if max < 0 {
		return nil, errors.InvalidArgument(errors.PhaseLifecycle,
			fmt.Sprintf("max capacity must not be negative, got %d", max))
	}
	if max == 0 || max > handle.MaxSlots {
		max = handle.MaxSlots
	}
	if initial > max {
		return nil, errors.TableFull(errors.PhaseLifecycle, max)
	}
	return &Array[E]{
		chunks:  [][]E{make([]E, initial)},
		initial: initial,
		max:     max,
		n:       initial,
	}, nil
}

// Len returns the current capacity.
func (a *Array[E]) Len() int { return a.n }

// Max returns the capacity limit.
func (a *Array[E]) Max() int { return a.max }

// At returns the element at i, or nil when i is out of range.
func (a *Array[E]) At(i int) *E {
	if i < 0 || i >= a.n {
		return nil
	}
	if i < a.initial {
		return &a.chunks[0][i]
	}
	k := bits.Len(uint(i / a.initial))
	return &a.chunks[k][i-a.initial<<(k-1)]
}

// Grow appends the next chunk, runs init on each new element and returns
// the index of the first one.
func (a *Array[E]) Grow(init func(*E)) (int, error) {
	if a.n >= a.max {
		return 0, errors.TableFull(errors.PhaseCreate, a.n)
	}
	size := min(a.n, a.max-a.n)
	chunk := make([]E, size)
	if init != nil {
		for i := range chunk {
			init(&chunk[i])
		}
	}

	first := a.n
	a.chunks = append(a.chunks, chunk)
	a.n += size
	return first, nil
}

// Scan calls fn for each index starting at from and wrapping around,
// and returns the first index for which fn reports true, or -1.
func (a *Array[E]) Scan(from int, fn func(int, *E) bool) int {
	if from < 0 || from >= a.n {
		from = 0
	}
	for i := from; i < a.n; i++ {
		if fn(i, a.At(i)) {
			return i
		}
	}
	for i := 0; i < from; i++ {
		if fn(i, a.At(i)) {
			return i
		}
	}
	return -1
}

// Each calls fn for every element in index order until fn returns false.
func (a *Array[E]) Each(fn func(int, *E) bool) {
	i := 0
	for _, chunk := range a.chunks {
		for j := range chunk {
			if !fn(i, &chunk[j]) {
				return
			}
			i++
		}
	}
}
