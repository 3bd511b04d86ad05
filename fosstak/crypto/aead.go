package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

const (
	SymmetricKeySize = 32
	NonceSize        = 16
	TagSize          = 16
)

// SymmetricKey is an AES-256 key.
type SymmetricKey [SymmetricKeySize]byte

// NewSymmetricKey draws a fresh key from crypto/rand.
func NewSymmetricKey() (SymmetricKey, error) {
	return newSymmetricKey(rand.Reader)
}

func newSymmetricKey(r io.Reader) (SymmetricKey, error) {
	var k SymmetricKey
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return SymmetricKey{}, errs.Wrap(errs.ErrRandomness, "read symmetric key", err)
	}
	return k, nil
}

// Fingerprint returns a short hex digest identifying the key in logs.
func (k *SymmetricKey) Fingerprint() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:6])
}

// newGCM returns AES-256-GCM with a 16-byte nonce and a 16-byte tag.
func newGCM(k *SymmetricKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, errs.Wrap(errs.ErrAEAD, "aes cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAEAD, "gcm", err)
	}
	return gcm, nil
}

// sealed is the output of one AEAD encryption, with the tag split off
// the ciphertext the way it travels on the wire.
type sealed struct {
	ciphertext []byte
	nonce      [NonceSize]byte
	tag        [TagSize]byte
}

func seal(r io.Reader, k *SymmetricKey, plaintext, ad []byte) (sealed, error) {
	gcm, err := newGCM(k)
	if err != nil {
		return sealed{}, err
	}
	var out sealed
	if _, err := io.ReadFull(r, out.nonce[:]); err != nil {
		return sealed{}, errs.Wrap(errs.ErrRandomness, "read nonce", err)
	}
	ct := gcm.Seal(nil, out.nonce[:], plaintext, ad)
	split := len(ct) - TagSize
	out.ciphertext = ct[:split:split]
	copy(out.tag[:], ct[split:])
	return out, nil
}

// open verifies and decrypts. On failure it never returns plaintext.
func open(k *SymmetricKey, s sealed, ad []byte) ([]byte, error) {
	gcm, err := newGCM(k)
	if err != nil {
		return nil, err
	}
	ct := make([]byte, 0, len(s.ciphertext)+TagSize)
	ct = append(ct, s.ciphertext...)
	ct = append(ct, s.tag[:]...)
	plaintext, err := gcm.Open(nil, s.nonce[:], ct, ad)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAEAD, "authentication failed", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
