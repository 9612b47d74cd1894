package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNullStoreAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	s := NewNullStore()
	if err := s.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, err := s.Get(ctx, []byte("k")); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := s.Get(ctx, []byte("k"))
	if err != nil || !ok || string(val) != "v1" {
		t.Fatalf("Get: val=%q ok=%v err=%v", val, ok, err)
	}

	if err := s.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, []byte("k")); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestBoltStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewBoltStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer s.Close() //nolint:errcheck // test cleanup

	if err := s.Set(ctx, []byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := s.Get(ctx, []byte("k"))
	if err != nil || !ok || string(val) != "v1" {
		t.Fatalf("Get: val=%q ok=%v err=%v", val, ok, err)
	}
}

func TestBoundedMemoryStoreFallsThroughOnEviction(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	bounded := NewBoundedMemoryStore(backing, 2)

	keys := [][]byte{[]byte("k1"), []byte("k2"), []byte("k3"), []byte("k4"), []byte("k5")}
	for _, k := range keys {
		if err := bounded.Set(ctx, k, append([]byte("val-"), k...)); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}

	if bounded.residentLen() > 2 {
		t.Errorf("expected in-memory layer bounded to capacity, got %d resident", bounded.residentLen())
	}

	// Every key is still reachable via the backing store, even if evicted
	// from the in-memory layer (testable property 9).
	for _, k := range keys {
		val, ok, err := bounded.Get(ctx, k)
		if err != nil || !ok {
			t.Fatalf("Get %s: val=%q ok=%v err=%v", k, val, ok, err)
		}
		want := append([]byte("val-"), k...)
		if string(val) != string(want) {
			t.Errorf("Get %s: got %q want %q", k, val, want)
		}
	}
}

func TestBoundedMemoryStoreDeleteRemovesFromBacking(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	bounded := NewBoundedMemoryStore(backing, 4)

	if err := bounded.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := bounded.Delete(ctx, []byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := backing.Get(ctx, []byte("k")); ok {
		t.Fatal("expected backing store miss after Delete")
	}
}

func TestPackValRoundTrip(t *testing.T) {
	for _, v := range [][]byte{{}, []byte("short"), make([]byte, 32)} {
		packed := packVal(v)
		unpacked, err := unpackVal(packed)
		if err != nil {
			t.Fatalf("unpackVal: %v", err)
		}
		if string(unpacked) != string(v) {
			t.Errorf("round trip mismatch: got %q want %q", unpacked, v)
		}
	}
}
