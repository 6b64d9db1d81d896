// Package config holds the tunables for handle tables and memory providers.
//
// Configuration is layered: defaults first, then a JSON file (comments and
// trailing commas allowed), then validation. Fields missing from the file
// keep their default values.
//
//	// handles.json
//	{
//	    "shared":    {"initial_capacity": 4096, "growable": true},
//	    "exclusive": {"initial_capacity": 32, "kind": 2}, // timers
//	    "memory":    {"provider": "arena", "arena_size": 1048576},
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/handle"
)

const (
	// DefaultSharedCapacity is the initial slot count of a shared table.
	DefaultSharedCapacity = 1024

	// DefaultExclusiveCapacity is the fixed slot count of an exclusive pool.
	DefaultExclusiveCapacity = 64

	// DefaultArenaSize is the arena size used when a fixed provider is
	// requested without an explicit size.
	DefaultArenaSize = 1 << 20
)

// Provider names accepted in Memory.Provider.
const (
	ProviderHeap  = "heap"
	ProviderArena = "arena"
	ProviderMmap  = "mmap"
	ProviderWasm  = "wasm"
)

// Table configures one slot table.
type Table struct {
	InitialCapacity int   `json:"initial_capacity"`
	MaxCapacity     int   `json:"max_capacity,omitempty"` // 0 means handle.MaxSlots
	Growable        bool  `json:"growable"`
	Kind            uint8 `json:"kind,omitempty"`  // default kind tag stamped into handles
	Scope           uint8 `json:"scope,omitempty"` // default scope tag stamped into handles
}

// Memory selects the bulk memory provider behind the guarded allocator.
type Memory struct {
	Provider  string `json:"provider"`
	ArenaSize int    `json:"arena_size,omitempty"`
}

// File is the on-disk configuration layout.
type File struct {
	Memory    Memory `json:"memory"`
	Shared    Table  `json:"shared"`
	Exclusive Table  `json:"exclusive"`
}

// DefaultShared returns the defaults for a shared, reference-counted table.
func DefaultShared() Table {
	return Table{
		InitialCapacity: DefaultSharedCapacity,
		Growable:        true,
	}
}

// DefaultExclusive returns the defaults for an exclusive pool. Pools never
// grow unless asked to, matching fixed arrays on embedded targets.
func DefaultExclusive() Table {
	return Table{
		InitialCapacity: DefaultExclusiveCapacity,
	}
}

// DefaultMemory returns the default provider selection.
func DefaultMemory() Memory {
	return Memory{Provider: ProviderHeap}
}

// Default returns the full default configuration.
func Default() File {
	return File{
		Memory:    DefaultMemory(),
		Shared:    DefaultShared(),
		Exclusive: DefaultExclusive(),
	}
}

// Limit returns the effective maximum capacity.
func (t Table) Limit() int {
	if t.MaxCapacity == 0 {
		return handle.MaxSlots
	}
	return t.MaxCapacity
}

// Validate checks the table settings.
func (t Table) Validate() error {
	if t.InitialCapacity <= 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidArgument).
			Detail("initial_capacity must be positive, got %d", t.InitialCapacity).
			Value(t.InitialCapacity).
			Build()
	}
	if t.MaxCapacity < 0 || t.MaxCapacity > handle.MaxSlots {
		return errors.New(errors.PhaseConfig, errors.KindInvalidArgument).
			Detail("max_capacity must be within [0, %d], got %d", handle.MaxSlots, t.MaxCapacity).
			Value(t.MaxCapacity).
			Build()
	}
	if t.InitialCapacity > t.Limit() {
		return errors.New(errors.PhaseConfig, errors.KindOutOfMemory).
			Detail("initial_capacity %d exceeds limit %d", t.InitialCapacity, t.Limit()).
			Value(t.InitialCapacity).
			Build()
	}
	return nil
}

// Validate checks the provider selection.
func (m Memory) Validate() error {
	switch m.Provider {
	case ProviderHeap:
		return nil
	case ProviderArena, ProviderMmap, ProviderWasm:
		if m.ArenaSize < 0 {
			return errors.InvalidArgument(errors.PhaseConfig,
				fmt.Sprintf("arena_size must not be negative, got %d", m.ArenaSize))
		}
		return nil
	}
	return errors.InvalidArgument(errors.PhaseConfig,
		fmt.Sprintf("unknown memory provider %q", m.Provider))
}

// Size returns the effective arena size.
func (m Memory) Size() int {
	if m.ArenaSize == 0 {
		return DefaultArenaSize
	}
	return m.ArenaSize
}

// Validate checks every section.
func (f File) Validate() error {
	if err := f.Memory.Validate(); err != nil {
		return err
	}
	if err := f.Shared.Validate(); err != nil {
		return wrapSection(err, "shared")
	}
	if err := f.Exclusive.Validate(); err != nil {
		return wrapSection(err, "exclusive")
	}
	return nil
}

// wrapSection names the section in err and keeps its kind.
func wrapSection(err error, section string) error {
	kind, ok := errors.KindOf(err)
	if !ok {
		kind = errors.KindInvalidArgument
	}
	return errors.Wrap(errors.PhaseConfig, kind, err, section)
}

// Parse overlays data on base and validates the result.
// data may contain comments and trailing commas.
func Parse(data []byte, base File) (File, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return File{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "parse config")
	}

	cfg := base
	if err := json.Unmarshal(std, &cfg); err != nil {
		return File{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// Load reads path and overlays it on the defaults.
// A missing file yields the defaults.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return File{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "read "+path)
	}
	return Parse(data, Default())
}

// Save validates cfg and writes it to path atomically.
func Save(path string, cfg File) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "encode config")
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidState, err, "write "+path)
	}
	return nil
}
