package resource

import "github.com/wippyai/handles/handle"

// Kind tags the resource type in the low byte of a handle.
type Kind uint8

// Resource kinds owned by an event loop.
const (
	KindInvalid Kind = iota
	KindEventLoop
	KindTimer
	KindSocket
	KindUserEvent
	KindProtothread

	// KindCustom is the first kind available to applications.
	KindCustom Kind = 128
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindEventLoop:
		return "event_loop"
	case KindTimer:
		return "timer"
	case KindSocket:
		return "socket"
	case KindUserEvent:
		return "user_event"
	case KindProtothread:
		return "protothread"
	}
	if k >= KindCustom {
		return "custom"
	}
	return "unknown"
}

// KindOf returns the kind tag carried by h.
func KindOf(h handle.Handle) Kind {
	return Kind(h.Kind())
}
