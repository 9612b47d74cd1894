// Package secrethash implements the keyed digest used to derive alias
// localparts and to hash storage keys.
//
// The construction is HMAC-SHA224 over the input, base32-encoded with
// padding stripped and lowercased — a 45-character token using only the
// alphabet a-z, 2-7, which is a legal address localpart. Because the
// construction is an HMAC, the token also doubles as a MAC over the input:
// a caller holding the secret and a candidate input can re-derive the token
// to validate a claimed association (used to defend against storage
// poisoning, see internal/vault).
package secrethash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"
)

// Hash returns the secret-keyed digest of name as a lowercase, unpadded
// base32 string.
func Hash(name, secret []byte) string {
	mac := hmac.New(sha256.New224, secret)
	mac.Write(name)
	sum := mac.Sum(nil)

	encoded := base32.StdEncoding.EncodeToString(sum)
	encoded = strings.TrimRight(encoded, "=")
	return strings.ToLower(encoded)
}

// Verify reports whether token is the correct digest of name under secret.
// It is constant-time with respect to the comparison itself (hmac.Equal).
func Verify(token string, name, secret []byte) bool {
	want := Hash(name, secret)
	return hmac.Equal([]byte(want), []byte(token))
}
