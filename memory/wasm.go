package memory

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/handles/errors"
)

// PageSize is the WebAssembly linear memory page size.
const PageSize = 65536

// maxWasmPages keeps the region addressable with uint32 offsets.
const maxWasmPages = 65535

// memoryModule is a module with one page of memory exported as "memory".
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 page, no max
	0x07, 0x0a, 0x01, // export section: 10 bytes, 1 export
	0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, // name: "memory"
	0x02, 0x00, // kind: memory, index 0
}

// Wasm is an Arena over the linear memory of a wazero module.
type Wasm struct {
	*Arena
	rt  wazero.Runtime
	mod api.Module
}

// NewWasm starts a wazero runtime, instantiates a memory-only module and
// grows its memory to hold at least size bytes.
func NewWasm(ctx context.Context, size int) (*Wasm, error) {
	if size <= 0 {
		return nil, errors.ZeroSize(errors.PhaseMemory, size)
	}
	pages := (size + PageSize - 1) / PageSize
	if pages > maxWasmPages {
		return nil, errors.InvalidArgument(errors.PhaseMemory,
			fmt.Sprintf("wasm arena of %d bytes exceeds %d pages", size, maxWasmPages))
	}

	rt := wazero.NewRuntime(ctx)
	mod, err := rt.InstantiateWithConfig(ctx, memoryModule, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseMemory, errors.KindOutOfMemory, err, "instantiate memory module")
	}

	mem := mod.ExportedMemory("memory")
	if have := mem.Size() / PageSize; uint32(pages) > have {
		if _, ok := mem.Grow(uint32(pages) - have); !ok {
			_ = rt.Close(ctx)
			return nil, errors.OutOfMemory(errors.PhaseMemory, size, nil)
		}
	}

	arena, err := WrapMemory(mem)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	Logger().Debug("wasm arena ready", zap.Int("pages", pages))
	return &Wasm{Arena: arena, rt: rt, mod: mod}, nil
}

// Memory returns the guest memory the arena manages.
func (w *Wasm) Memory() api.Memory { return w.mod.ExportedMemory("memory") }

// Close releases the runtime and with it the linear memory.
func (w *Wasm) Close(ctx context.Context) error {
	if err := w.rt.Close(ctx); err != nil {
		return errors.Wrap(errors.PhaseMemory, errors.KindInvalidState, err, "close wasm runtime")
	}
	if live := w.detach(); live > 0 {
		Logger().Warn("closed wasm arena with live fragments", zap.Int("live", live))
	}
	return nil
}

// WrapMemory creates an arena over the current extent of mem.
// Growing mem afterwards may move its buffer and invalidates the arena.
func WrapMemory(mem api.Memory) (*Arena, error) {
	if mem == nil {
		return nil, errors.InvalidArgument(errors.PhaseMemory, "nil memory")
	}
	view, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil, errors.InvalidState(errors.PhaseMemory, 0, "",
			fmt.Sprintf("memory read out of bounds: length=%d", mem.Size()))
	}
	return newArena(view)
}
