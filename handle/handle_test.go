package handle

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fields struct {
	Kind  uint8
	Scope uint8
	Gen   uint32
	Index uint32
}

func decodeFields(h Handle) fields {
	k, s, g, i := h.Decode()
	return fields{Kind: k, Scope: s, Gen: g, Index: i}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []fields{
		{Kind: 0, Scope: 0, Gen: 1, Index: 0},
		{Kind: 2, Scope: 7, Gen: 1, Index: 7},
		{Kind: 0xFF, Scope: 0xFF, Gen: MaxGeneration, Index: MaxIndex},
		{Kind: 3, Scope: 1, Gen: 0x123456, Index: 0xABCDEF},
		{Kind: 1, Scope: 0, Gen: 1 << 16, Index: 10000},
	}
	for _, want := range tests {
		h := Encode(want.Kind, want.Scope, want.Gen, want.Index)
		if diff := cmp.Diff(want, decodeFields(h)); diff != "" {
			t.Errorf("round trip mismatch for %v (-want +got):\n%s", h, diff)
		}
	}
}

func TestEncodeDecode_Exhaustive(t *testing.T) {
	for kind := 0; kind < 256; kind += 17 {
		for scope := 0; scope < 256; scope += 31 {
			for gen := uint32(1); gen <= MaxGeneration; gen = gen*3 + 1 {
				for idx := uint32(0); idx <= MaxIndex; idx = idx*5 + 1 {
					h := Encode(uint8(kind), uint8(scope), gen, idx)
					k, s, g, i := h.Decode()
					if k != uint8(kind) || s != uint8(scope) || g != gen || i != idx {
						t.Fatalf("Decode(Encode(%d,%d,%d,%d)) = (%d,%d,%d,%d)",
							kind, scope, gen, idx, k, s, g, i)
					}
				}
			}
		}
	}
}

func TestEncode_Truncates(t *testing.T) {
	h := Encode(1, 2, MaxGeneration+2, MaxIndex+3)
	want := fields{Kind: 1, Scope: 2, Gen: 1, Index: 2}
	if diff := cmp.Diff(want, decodeFields(h)); diff != "" {
		t.Errorf("truncation mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_FieldsIndependent(t *testing.T) {
	base := Encode(1, 1, 1, 1)
	variants := []Handle{
		Encode(2, 1, 1, 1),
		Encode(1, 2, 1, 1),
		Encode(1, 1, 2, 1),
		Encode(1, 1, 1, 2),
	}
	for _, v := range variants {
		if v == base {
			t.Fatalf("%v collides with %v", v, base)
		}
	}
}

func TestNextGeneration(t *testing.T) {
	if got := NextGeneration(0); got != 1 {
		t.Errorf("NextGeneration(0) = %d, want 1", got)
	}
	if got := NextGeneration(41); got != 42 {
		t.Errorf("NextGeneration(41) = %d, want 42", got)
	}
	if got := NextGeneration(MaxGeneration); got != 1 {
		t.Errorf("NextGeneration(max) = %d, want 1 (zero skipped)", got)
	}
}

func TestNextGeneration_DistinctWindow(t *testing.T) {
	seen := make(map[uint32]struct{}, 1<<16+1)
	g := uint32(0)
	for i := 0; i <= 1<<16; i++ {
		g = NextGeneration(g)
		if g == 0 {
			t.Fatal("generation zero issued")
		}
		if _, dup := seen[g]; dup {
			t.Fatalf("generation %d repeated after %d reuses", g, i)
		}
		seen[g] = struct{}{}
	}
}

func TestHandle_String(t *testing.T) {
	if got := Invalid.String(); got != "handle(invalid)" {
		t.Errorf("Invalid.String() = %q", got)
	}
	s := Encode(2, 3, 4, 5).String()
	for _, part := range []string{"kind=2", "scope=3", "gen=4", "idx=5"} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, missing %q", s, part)
		}
	}
	if !Invalid.IsZero() || Encode(0, 0, 1, 0).IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestObservers(t *testing.T) {
	var obs Observers
	var got []EventType
	remove := obs.Add(ObserverFunc(func(e Event) { got = append(got, e.Type) }))

	obs.Notify(Event{Type: EventCreated})
	obs.Notify(Event{Type: EventDestroyed})
	if obs.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", obs.Len())
	}

	remove()
	obs.Notify(Event{Type: EventLeaked})

	want := []EventType{EventCreated, EventDestroyed}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if obs.Len() != 0 {
		t.Fatalf("Len() after remove = %d, want 0", obs.Len())
	}
}

func TestObservers_RemoveSelfDuringNotify(t *testing.T) {
	var obs Observers
	calls := 0
	var remove func()
	remove = obs.Add(ObserverFunc(func(Event) {
		calls++
		remove()
		obs.Add(ObserverFunc(func(Event) {}))
	}))

	obs.Notify(Event{Type: EventCreated})
	obs.Notify(Event{Type: EventCreated})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if obs.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", obs.Len())
	}
}

func TestEventType_String(t *testing.T) {
	if EventResized.String() != "resized" || EventType(99).String() != "unknown" {
		t.Error("EventType.String mismatch")
	}
}
