// Package vault implements the non-enumerable store wrapper: it hides both
// the keys and the values written to an underlying storage.Store.
//
// Keys are hashed with the same keyed digest used for alias derivation
// (internal/secrethash), so the physical key reveals nothing about the
// logical key without the secret. Values are encrypted with a per-entry
// key folded from the secret and the logical key (HMAC-SHA256), so the
// physical value reveals nothing about the plaintext without both the
// secret and a plausible logical key.
//
// This is intentionally not "general purpose encryption at rest": it is
// built to make exactly two operations possible (look up the real address
// of a known alias; validate a claimed alias/real-address association) and
// everything else — enumerating aliases, enumerating real addresses —
// correspondingly hard.
package vault

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/axrelay/axrelay/internal/secrethash"
	"github.com/axrelay/axrelay/internal/storage"
)

// aesKeyLen is the AES key width used to encrypt values: 16 bytes (AES-128),
// truncated from the 32-byte HMAC-SHA256 output. See SPEC_FULL.md §4.4 and
// DESIGN.md's Open Question decision on AES key width.
const aesKeyLen = 16

// ErrCorruptEntry is returned by Get when the physical value cannot be
// decrypted or its padding is invalid. Per spec.md §4.4 / §7, corruption is
// never silently treated as "absent" — callers must treat it as a hard
// failure and refuse to route to whatever address the ciphertext might
// have decoded to.
var ErrCorruptEntry = errors.New("vault: corrupt entry")

// Vault wraps a storage.Store with a master secret, providing the
// non-enumerable contract described in the package doc.
type Vault struct {
	backing storage.Store
	secret  []byte
}

// New returns a Vault over backing, keyed by secret (S_store).
func New(backing storage.Store, secret []byte) *Vault {
	return &Vault{backing: backing, secret: secret}
}

// Set encrypts value under a key derived from k and writes it to the
// backing store under hash(k). Repeated calls for the same k overwrite the
// same physical key with a fresh ciphertext (new random IV).
func (v *Vault) Set(ctx context.Context, k, value []byte) error {
	physKey := v.hashKey(k)

	block, err := v.cipherFor(k)
	if err != nil {
		return err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return fmt.Errorf("vault: generate iv: %w", err)
	}

	padded := pkcs7Pad(value, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	physVal := make([]byte, 0, len(iv)+len(ciphertext))
	physVal = append(physVal, iv...)
	physVal = append(physVal, ciphertext...)

	return v.backing.Set(ctx, []byte(physKey), physVal)
}

// Get decrypts and returns the value stored under k, or ok=false if absent.
// A corrupt physical value (invalid padding, truncated ciphertext) returns
// ErrCorruptEntry, never a silent miss.
func (v *Vault) Get(ctx context.Context, k []byte) (value []byte, ok bool, err error) {
	physKey := v.hashKey(k)

	physVal, found, err := v.backing.Get(ctx, []byte(physKey))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	if len(physVal) < aes.BlockSize || (len(physVal)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, false, ErrCorruptEntry
	}

	block, err := v.cipherFor(k)
	if err != nil {
		return nil, false, err
	}

	iv := physVal[:aes.BlockSize]
	ciphertext := physVal[aes.BlockSize:]
	if len(ciphertext) == 0 {
		return nil, false, ErrCorruptEntry
	}

	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)

	plain, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}

	return plain, true, nil
}

// Delete hashes k and deletes the corresponding physical key.
func (v *Vault) Delete(ctx context.Context, k []byte) error {
	return v.backing.Delete(ctx, []byte(v.hashKey(k)))
}

func (v *Vault) hashKey(k []byte) string {
	return secrethash.Hash(k, v.secret)
}

// cipherFor builds the AES block cipher for logical key k: the cipher key
// is HMAC-SHA256(secret, k), truncated to aesKeyLen bytes.
func (v *Vault) cipherFor(k []byte) (cipher.Block, error) {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(k)
	full := mac.Sum(nil)

	block, err := aes.NewCipher(full[:aesKeyLen])
	if err != nil {
		return nil, fmt.Errorf("vault: build cipher: %w", err)
	}
	return block, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, errors.New("invalid padding length byte")
	}
	padding := data[n-padLen:]
	if !bytes.Equal(padding, bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, errors.New("invalid padding bytes")
	}
	return data[:n-padLen], nil
}
