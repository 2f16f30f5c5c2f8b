package store

import (
	"context"
	"testing"
)

func handles(ids ...string) []*Handle {
	ret := make([]*Handle, len(ids))
	for i, id := range ids {
		ret[i] = &Handle{Identifier: id}
	}
	return ret
}

func TestRoundRobinAdvancesEveryCall(t *testing.T) {
	rr := &RoundRobin{}
	stores := handles("a", "b", "c")

	got := []string{
		rr.Next(stores, 0).Identifier,
		rr.Next(stores, 0).Identifier,
		rr.Next(stores, 0).Identifier,
		rr.Next(stores, 0).Identifier,
	}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDrainFirstStaysWhileWorkFound(t *testing.T) {
	df := &DrainFirst{}
	stores := handles("a", "b", "c")

	first := df.Next(stores, 0)
	if first.Identifier != "a" {
		t.Fatalf("expected first call to return a, got %s", first.Identifier)
	}

	second := df.Next(stores, 5)
	if second.Identifier != "a" {
		t.Fatalf("expected to stay on a after processed work, got %s", second.Identifier)
	}

	third := df.Next(stores, 0)
	if third.Identifier != "b" {
		t.Fatalf("expected to advance to b after empty poll, got %s", third.Identifier)
	}
}

func TestRouterRoute(t *testing.T) {
	hs := handles("a", "b")
	r := NewRouter(hs)

	h, err := r.Route("a")
	if err != nil {
		t.Fatal(err)
	}
	if h.Identifier != "a" {
		t.Fatalf("expected a, got %s", h.Identifier)
	}

	if _, err := r.Route("missing"); err != ErrNoStoreForKey {
		t.Fatalf("expected ErrNoStoreForKey, got %v", err)
	}
}

func TestStaticProviderReturnsDefensiveCopy(t *testing.T) {
	hs := handles("a", "b")
	p := NewStaticProvider(hs...)

	got, err := p.Stores(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got[0] = &Handle{Identifier: "mutated"}

	got2, _ := p.Stores(context.Background())
	if got2[0].Identifier != "a" {
		t.Fatalf("expected provider's internal list unaffected by caller mutation, got %s", got2[0].Identifier)
	}
}
