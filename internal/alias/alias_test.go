package alias

import (
	"context"
	"testing"

	"github.com/axrelay/axrelay/internal/address"
	"github.com/axrelay/axrelay/internal/storage"
)

const testDomain = "axr.local"

func newTestService() *Service {
	secret := []byte("0123456789abcdef0123456789abcdef")
	return New(secret, testDomain, storage.NewMemoryStore())
}

func TestAliasOfIsDeterministic(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	addr := address.ParseAddress("alice@example.com/phone")

	a1, err := svc.AliasOf(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := svc.AliasOf(ctx, addr)
	if err != nil {
		t.Fatal(err)
	}
	if !a1.Equal(a2) {
		t.Fatalf("expected deterministic alias, got %v vs %v", a1, a2)
	}
	if a1.Resource != "a" {
		t.Errorf("expected resource %q, got %q", "a", a1.Resource)
	}
	if a1.Domain != testDomain {
		t.Errorf("expected domain %q, got %q", testDomain, a1.Domain)
	}
}

func TestAliasOfIdempotentOnAliasDomain(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	already := address.Address{Local: "somehash", Domain: testDomain, Resource: "a"}
	got, err := svc.AliasOf(ctx, already)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(already) {
		t.Fatalf("expected alias-of-alias to be itself, got %v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	real := address.ParseAddress("alice@example.com/phone")

	a, err := svc.AliasOf(ctx, real)
	if err != nil {
		t.Fatal(err)
	}

	resolved, ok, err := svc.RealOf(ctx, a)
	if err != nil || !ok {
		t.Fatalf("RealOf: ok=%v err=%v", ok, err)
	}
	if resolved.Full() != real.Full() {
		t.Fatalf("round trip mismatch: got %q want %q", resolved.Full(), real.Full())
	}
}

func TestRealOfUnknownAliasIsAbsent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	neverMinted := address.Address{Local: "nobodyshome", Domain: testDomain, Resource: "a"}

	_, ok, err := svc.RealOf(ctx, neverMinted)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss for an alias never produced by AliasOf")
	}
}

func TestReverseLookupIgnoresResource(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	real := address.ParseAddress("alice@example.com/phone")

	a, err := svc.AliasOf(ctx, real)
	if err != nil {
		t.Fatal(err)
	}

	bareOnly := address.Address{Local: a.Local, Domain: a.Domain, Resource: "different-resource"}
	resolved, ok, err := svc.RealOf(ctx, bareOnly)
	if err != nil || !ok {
		t.Fatalf("RealOf with different resource: ok=%v err=%v", ok, err)
	}
	if resolved.Full() != real.Full() {
		t.Fatalf("expected same real address regardless of alias resource, got %q", resolved.Full())
	}
}

func TestDistinctResourcesYieldDistinctAliases(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	phone, err := svc.AliasOf(ctx, address.ParseAddress("alice@example.com/phone"))
	if err != nil {
		t.Fatal(err)
	}
	laptop, err := svc.AliasOf(ctx, address.ParseAddress("alice@example.com/laptop"))
	if err != nil {
		t.Fatal(err)
	}
	if phone.Equal(laptop) {
		t.Fatal("expected distinct resources of the same user to yield distinct aliases")
	}
}
