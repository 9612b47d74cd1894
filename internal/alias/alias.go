// Package alias implements the alias derivation and reverse lookup
// service: deterministic keyed-hash addresses in the relay's own domain,
// backed by a non-enumerable store.
package alias

import (
	"context"
	"fmt"

	"github.com/axrelay/axrelay/internal/address"
	"github.com/axrelay/axrelay/internal/secrethash"
)

// aliasResource is the fixed resource written onto every alias address.
// Bot-command replies are sent from this resource so that recipients
// reply to a stable, predictable address (spec.md §4.5).
const aliasResource = "a"

// store is the minimal persistence contract alias.Service needs. It is
// satisfied by *vault.Vault (the production, non-enumerable path) and by
// any storage.Store directly, which is convenient in tests that don't care
// about confidentiality.
type store interface {
	Get(ctx context.Context, key []byte) (val []byte, ok bool, err error)
	Set(ctx context.Context, key, val []byte) error
}

// Service derives aliases from real addresses and resolves them back.
// Constructor-injected, no package-level state (spec.md §9).
type Service struct {
	hashSecret []byte
	domain     string
	store      store
}

// New returns an alias Service keyed by hashSecret (S_hash), minting
// aliases under domain (D_alias), and recording the reverse mapping in
// store.
func New(hashSecret []byte, domain string, store store) *Service {
	return &Service{hashSecret: hashSecret, domain: domain, store: store}
}

// AliasOf returns the alias address for addr and records the mapping on
// every call; a repeat call for the same addr.Full() overwrites the same
// entry.
//
// If addr is already in D_alias, it is returned unchanged (alias-of-alias
// is the address itself, spec.md §3/§4.5 invariant).
func (s *Service) AliasOf(ctx context.Context, addr address.Address) (address.Address, error) {
	if addr.Domain == s.domain {
		return addr, nil
	}

	name := secrethash.Hash([]byte(addr.Full()), s.hashSecret)
	aliasAddr := address.Address{Local: name, Domain: s.domain, Resource: aliasResource}

	if err := s.store.Set(ctx, []byte(aliasAddr.Bare()), []byte(addr.Full())); err != nil {
		return address.Address{}, fmt.Errorf("alias: record mapping: %w", err)
	}

	return aliasAddr, nil
}

// RealOf looks up the real address behind aliasAddr. Lookup is keyed on
// the bare form only; the resource on aliasAddr is ignored, matching
// spec.md §4.5. Returns ok=false if no mapping is known.
func (s *Service) RealOf(ctx context.Context, aliasAddr address.Address) (address.Address, bool, error) {
	raw, ok, err := s.store.Get(ctx, []byte(aliasAddr.Bare()))
	if err != nil {
		return address.Address{}, false, fmt.Errorf("alias: lookup mapping: %w", err)
	}
	if !ok {
		return address.Address{}, false, nil
	}
	return address.ParseAddress(string(raw)), true, nil
}
