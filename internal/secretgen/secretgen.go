// Package secretgen generates fresh random secrets for the `secret` CLI
// subcommand (S_hash / S_store material).
package secretgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// secretBytes is the amount of entropy pulled per generated secret.
const secretBytes = 32

// New returns a freshly generated, base64-encoded secret suitable for use
// as a hash or vault key.
func New() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("secretgen: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
