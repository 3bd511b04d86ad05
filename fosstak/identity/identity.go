// Package identity is the entry point for obtaining a cryptographic
// identity: a fresh crypto.Engine and its exportable public keys.
package identity

import (
	"github.com/TheusHen/fosstak/fosstak/crypto"
)

// New generates a new identity with RSA keys of the given size.
// A bits value of 0 selects crypto.DefaultKeySize.
func New(bits int) (*crypto.Engine, error) {
	if bits == 0 {
		bits = crypto.DefaultKeySize
	}
	return crypto.NewEngine(bits)
}

// PublicKeys exports the public halves of e.
func PublicKeys(e *crypto.Engine) crypto.PublicKeys {
	return e.PublicKeys()
}
