package guard

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"runtime"
)

// Canary values framing every block.
const (
	HeaderCanary uint64 = 0xDEADBEEFCAFEBABE
	FooterCanary uint64 = 0xFEEDFACEDEADC0DE
	Tombstone    uint64 = 0xDEADDEADDEADDEAD
)

const (
	headerSize   = 16 // canary + payload size
	footerSize   = 8
	payloadAlign = 16
)

func frameSize(n int) int {
	return headerSize + roundUp(n) + footerSize
}

func roundUp(n int) int {
	return (n + payloadAlign - 1) &^ (payloadAlign - 1)
}

// Destructor runs once with the payload right before a block is released.
type Destructor func(payload []byte)

type blockState uint8

const (
	stateLive blockState = iota
	stateReleased
	stateMoved
)

func (s blockState) String() string {
	switch s {
	case stateLive:
		return "live"
	case stateReleased:
		return "released"
	case stateMoved:
		return "moved by resize"
	}
	return "unknown"
}

// Block is a payload framed by canaries inside provider memory.
// A Block is not safe for concurrent release; the owning table
// serializes that.
type Block struct {
	owner   *Allocator
	destroy Destructor
	raw     []byte
	site    string
	size    int
	state   blockState
}

// Bytes returns the payload. The slice is capacity limited to the
// requested size and is nil once the block is released.
func (b *Block) Bytes() []byte {
	if b == nil || b.raw == nil {
		return nil
	}
	return b.raw[headerSize : headerSize+b.size : headerSize+b.size]
}

// Len returns the requested payload size.
func (b *Block) Len() int {
	if b == nil {
		return 0
	}
	return b.size
}

// Site returns the file:line that allocated the block.
func (b *Block) Site() string {
	if b == nil {
		return ""
	}
	return b.site
}

func (b *Block) footerOffset() int {
	return headerSize + roundUp(b.size)
}

func (b *Block) writeCanaries() {
	binary.LittleEndian.PutUint64(b.raw[0:], HeaderCanary)
	binary.LittleEndian.PutUint64(b.raw[8:], uint64(b.size))
	binary.LittleEndian.PutUint64(b.raw[b.footerOffset():], FooterCanary)
}

func (b *Block) writeTombstones() {
	binary.LittleEndian.PutUint64(b.raw[0:], Tombstone)
	binary.LittleEndian.PutUint64(b.raw[b.footerOffset():], Tombstone)
}

// check returns the name and value of the first damaged frame word.
func (b *Block) check() (string, uint64, bool) {
	if len(b.raw) < frameSize(b.size) {
		return "frame", uint64(len(b.raw)), false
	}
	if v := binary.LittleEndian.Uint64(b.raw[0:]); v != HeaderCanary {
		return "header", v, false
	}
	if v := binary.LittleEndian.Uint64(b.raw[8:]); v != uint64(b.size) {
		return "size", v, false
	}
	if v := binary.LittleEndian.Uint64(b.raw[b.footerOffset():]); v != FooterCanary {
		return "footer", v, false
	}
	return "", 0, true
}

// Caller returns the file:line skip frames above the caller of Caller.
func Caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
