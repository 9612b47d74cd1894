package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/axrelay/axrelay/internal/storage"
)

func newTestVault() (*Vault, storage.Store) {
	backing := storage.NewMemoryStore()
	return New(backing, []byte("0123456789abcdef0123456789abcdef")), backing
}

func TestEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault()

	cases := [][]byte{
		[]byte(""),
		[]byte("short"),
		bytes.Repeat([]byte("x"), 16), // exact block multiple
		[]byte("alice@example.com/phone"),
	}

	for _, val := range cases {
		if err := v.Set(ctx, []byte("key"), val); err != nil {
			t.Fatalf("Set(%q): %v", val, err)
		}
		got, ok, err := v.Get(ctx, []byte("key"))
		if err != nil || !ok {
			t.Fatalf("Get(%q): ok=%v err=%v", val, ok, err)
		}
		if !bytes.Equal(got, val) {
			t.Errorf("round trip mismatch: got %q want %q", got, val)
		}
	}
}

func TestUnknownKeyIsAbsent(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault()

	_, ok, err := v.Get(ctx, []byte("never-written"))
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestPhysicalKeysAreNotEnumerable(t *testing.T) {
	ctx := context.Background()
	v, backing := newTestVault()

	if err := v.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := v.Set(ctx, []byte("k2"), []byte("v2")); err != nil {
		t.Fatal(err)
	}

	mem := backing.(*storage.MemoryStore)
	if mem.Len() != 2 {
		t.Fatalf("expected 2 physical entries, got %d", mem.Len())
	}

	for _, plain := range []string{"k1", "k2"} {
		if _, ok, _ := mem.Get(ctx, []byte(plain)); ok {
			t.Errorf("plaintext key %q should not appear as a physical key", plain)
		}
	}
}

func TestSuccessiveWritesProduceFreshCiphertext(t *testing.T) {
	ctx := context.Background()
	v, backing := newTestVault()

	if err := v.Set(ctx, []byte("k"), []byte("same-value")); err != nil {
		t.Fatal(err)
	}
	physKey := v.hashKey([]byte("k"))
	first, _, _ := backing.Get(ctx, []byte(physKey))

	if err := v.Set(ctx, []byte("k"), []byte("same-value")); err != nil {
		t.Fatal(err)
	}
	second, _, _ := backing.Get(ctx, []byte(physKey))

	if bytes.Equal(first, second) {
		t.Error("expected distinct ciphertext across successive writes (fresh IV)")
	}
}

func TestCorruptEntryIsNeverTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	v, backing := newTestVault()

	if err := v.Set(ctx, []byte("k"), []byte("value")); err != nil {
		t.Fatal(err)
	}

	physKey := v.hashKey([]byte("k"))
	physVal, ok, err := backing.Get(ctx, []byte(physKey))
	if err != nil || !ok {
		t.Fatalf("expected to find the physical entry: ok=%v err=%v", ok, err)
	}

	corrupted := append([]byte(nil), physVal...)
	corrupted[len(corrupted)-1] ^= 0xFF
	if err := backing.Set(ctx, []byte(physKey), corrupted); err != nil {
		t.Fatal(err)
	}

	_, ok, err = v.Get(ctx, []byte("k"))
	if ok {
		t.Fatal("corrupt entry must not be reported as a hit")
	}
	if !errors.Is(err, ErrCorruptEntry) {
		t.Fatalf("expected ErrCorruptEntry, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVault()

	if err := v.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete(ctx, []byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := v.Get(ctx, []byte("k")); ok {
		t.Fatal("expected miss after delete")
	}
}
