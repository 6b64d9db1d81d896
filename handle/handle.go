package handle

import "fmt"

// Handle is an opaque reference to a slot in a table.
// Handle 0 is reserved and always invalid.
type Handle uint64

// Invalid is the zero handle. No table ever issues it.
const Invalid Handle = 0

const (
	kindShift  = 0
	scopeShift = 8
	genShift   = 16
	indexShift = 40

	byteMask  = 0xFF
	fieldMask = 1<<24 - 1
)

const (
	// MaxGeneration is the largest generation a handle can carry.
	MaxGeneration uint32 = fieldMask

	// MaxIndex is the largest slot index a handle can carry.
	MaxIndex uint32 = fieldMask

	// MaxSlots is the number of addressable slots per table.
	MaxSlots = int(MaxIndex) + 1
)

// Encode packs the handle fields. gen and index are truncated to 24 bits.
func Encode(kind, scope uint8, gen, index uint32) Handle {
	return Handle(uint64(kind)<<kindShift |
		uint64(scope)<<scopeShift |
		uint64(gen&fieldMask)<<genShift |
		uint64(index&fieldMask)<<indexShift)
}

// Decode unpacks all handle fields.
func (h Handle) Decode() (kind, scope uint8, gen, index uint32) {
	return h.Kind(), h.Scope(), h.Generation(), h.Index()
}

// Kind returns the caller-defined resource type tag.
func (h Handle) Kind() uint8 { return uint8(uint64(h) >> kindShift & byteMask) }

// Scope returns the caller-defined owner tag.
func (h Handle) Scope() uint8 { return uint8(uint64(h) >> scopeShift & byteMask) }

// Generation returns the generation stamped at issue time.
func (h Handle) Generation() uint32 { return uint32(uint64(h) >> genShift & fieldMask) }

// Index returns the slot index.
func (h Handle) Index() uint32 { return uint32(uint64(h) >> indexShift & fieldMask) }

// IsZero reports whether h is the reserved invalid handle.
func (h Handle) IsZero() bool { return h == Invalid }

func (h Handle) String() string {
	if h == Invalid {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(kind=%d scope=%d gen=%d idx=%d)",
		h.Kind(), h.Scope(), h.Generation(), h.Index())
}

// NextGeneration returns the generation that follows g.
// It wraps inside 24 bits and skips zero.
func NextGeneration(g uint32) uint32 {
	g = (g + 1) & fieldMask
	if g == 0 {
		g = 1
	}
	return g
}
