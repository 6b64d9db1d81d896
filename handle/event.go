package handle

import (
	"slices"
	"sync"
)

// EventType identifies a lifecycle transition.
type EventType uint8

const (
	EventCreated EventType = iota
	EventAcquired
	EventReleased
	EventResized
	EventDestroyed
	EventLeaked
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventAcquired:
		return "acquired"
	case EventReleased:
		return "released"
	case EventResized:
		return "resized"
	case EventDestroyed:
		return "destroyed"
	case EventLeaked:
		return "leaked"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Site   string // creation site of the block, when known
	Handle Handle
	Size   int    // payload size after the transition
	Refs   uint32 // reference count after the transition (shared tables only)
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
// Tables call observers outside of their locks.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Observers is a concurrency-safe observer list.
// The zero value is ready to use.
type Observers struct {
	list []registered
	next uint64
	mu   sync.RWMutex
}

type registered struct {
	o  Observer
	id uint64
}

// Add registers o and returns a function that removes it again.
func (s *Observers) Add(o Observer) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.list = append(s.list, registered{o: o, id: id})
	return func() { s.remove(id) }
}

func (s *Observers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.list {
		if r.id == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered observers.
func (s *Observers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Notify delivers e to every observer registered when it is called.
// Observers may add or remove observers, themselves included.
func (s *Observers) Notify(e Event) {
	s.mu.RLock()
	list := slices.Clone(s.list)
	s.mu.RUnlock()
	for _, r := range list {
		r.o.OnHandleEvent(e)
	}
}
