package handles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wippyai/handles/config"
	"github.com/wippyai/handles/errors"
	"github.com/wippyai/handles/shared"
)

func TestOpen_Providers(t *testing.T) {
	ctx := context.Background()
	for _, provider := range []string{config.ProviderHeap, config.ProviderArena, config.ProviderMmap, config.ProviderWasm} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.Memory = config.Memory{Provider: provider, ArenaSize: 1 << 16}

			set, err := Open(ctx, cfg, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			h, err := set.Shared.Create(32, nil)
			if err != nil {
				t.Fatalf("shared Create: %v", err)
			}
			buf, err := set.Shared.Acquire(ctx, h, shared.NoWait)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			copy(buf, "shared")
			_ = set.Shared.Release(h)
			_ = set.Shared.Release(h)

			p, err := set.Exclusive.Create(16, nil)
			if err != nil {
				t.Fatalf("exclusive Create: %v", err)
			}
			if err := set.Exclusive.Destroy(p); err != nil {
				t.Fatalf("Destroy: %v", err)
			}

			if err := set.Close(ctx); err != nil {
				t.Fatalf("Close: %v", err)
			}
		})
	}
}

func TestClose_FreesLeaks(t *testing.T) {
	ctx := context.Background()
	set, err := Open(ctx, config.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}

	destroyed := 0
	_, _ = set.Shared.Create(8, func([]byte) { destroyed++ })
	_, _ = set.Exclusive.Create(8, func([]byte) { destroyed++ })

	if err := set.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if destroyed != 2 {
		t.Fatalf("destroyed = %d, want 2", destroyed)
	}
	if live := set.Allocator.Stats().Live; live != 0 {
		t.Fatalf("allocator live = %d", live)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handles.json")
	data := []byte(`{
		// small tables for the test
		"shared": {"initial_capacity": 4, "growable": false},
		"exclusive": {"initial_capacity": 2},
	}`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(ctx, path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer set.Close(ctx)

	if set.Shared.Cap() != 4 || set.Exclusive.Cap() != 2 {
		t.Fatalf("capacities = %d/%d", set.Shared.Cap(), set.Exclusive.Cap())
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.Provider = "tape"
	_, err := Open(context.Background(), cfg, nil)
	if !errors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("Open error = %v", err)
	}
}
