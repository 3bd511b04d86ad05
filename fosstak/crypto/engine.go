package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"io"
	"sync/atomic"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

const (
	// DefaultKeySize is the RSA modulus size used when none is configured.
	DefaultKeySize = 2048
	// MinKeySize is the smallest modulus NewEngine accepts.
	MinKeySize = 1024
)

// Signature is an RSA PKCS#1 v1.5 signature over SHA-512 of the signed data.
type Signature []byte

// Engine owns one encryption keypair, one signing keypair and the live
// symmetric session key. It is safe for concurrent use; one Engine is
// usually shared by every stream of a process.
type Engine struct {
	random  io.Reader
	encKey  *rsa.PrivateKey
	signKey *rsa.PrivateKey
	public  PublicKeys
	symKey  atomic.Pointer[SymmetricKey]
}

// NewEngine generates both RSA keypairs with the given modulus size and an
// initial random symmetric key.
func NewEngine(bits int) (*Engine, error) {
	return newEngine(rand.Reader, bits)
}

func newEngine(random io.Reader, bits int) (*Engine, error) {
	if bits < MinKeySize {
		return nil, errs.Wrap(errs.ErrKeyGeneration, "key size too small", nil)
	}
	encKey, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKeyGeneration, "encryption keypair", err)
	}
	signKey, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKeyGeneration, "signing keypair", err)
	}
	sym, err := newSymmetricKey(random)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKeyGeneration, "symmetric key", err)
	}
	e := &Engine{
		random:  random,
		encKey:  encKey,
		signKey: signKey,
	}
	e.public = PublicKeys{
		Encryption: EncryptionPublicKey{key: &encKey.PublicKey},
		Signing:    SigningPublicKey{key: &signKey.PublicKey},
	}
	e.symKey.Store(&sym)
	return e, nil
}

// PublicKeys returns the exportable public halves of both keypairs.
func (e *Engine) PublicKeys() PublicKeys { return e.public }

// KeySize returns the RSA modulus size in bits.
func (e *Engine) KeySize() int { return e.encKey.N.BitLen() }

// SymmetricKeyFingerprint identifies the live symmetric key for debugging.
func (e *Engine) SymmetricKeyFingerprint() string {
	return e.symKey.Load().Fingerprint()
}

// Encrypt seals plaintext under the current symmetric key with a fresh
// nonce, binds ad into the tag, and wraps the symmetric key for receiver.
func (e *Engine) Encrypt(receiver EncryptionPublicKey, plaintext, ad []byte) (SecureRecord, error) {
	if receiver.IsZero() {
		return SecureRecord{}, errs.Wrap(errs.ErrAsymmetric, "missing receiver public key", nil)
	}
	key := e.symKey.Load()
	s, err := seal(e.random, key, plaintext, ad)
	if err != nil {
		return SecureRecord{}, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), e.random, receiver.key, key[:], nil)
	if err != nil {
		return SecureRecord{}, errs.Wrap(errs.ErrAsymmetric, "wrap symmetric key", err)
	}
	return SecureRecord{
		WrappedKey:     wrapped,
		Ciphertext:     s.ciphertext,
		Nonce:          s.nonce,
		Tag:            s.tag,
		AssociatedData: append([]byte{}, ad...),
	}, nil
}

// Decrypt unwraps the record's symmetric key with the engine's private
// encryption key and opens the ciphertext with it.
//
// On success the recovered key replaces the engine's own symmetric key,
// so the next Encrypt uses the key of the most recent sender.
func (e *Engine) Decrypt(rec SecureRecord) (plaintext, ad []byte, err error) {
	raw, err := rsa.DecryptOAEP(sha256.New(), nil, e.encKey, rec.WrappedKey, nil)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrAsymmetric, "unwrap symmetric key", err)
	}
	if len(raw) != SymmetricKeySize {
		return nil, nil, errs.Wrap(errs.ErrAsymmetric, "unwrapped key has wrong length", nil)
	}
	var key SymmetricKey
	copy(key[:], raw)

	plaintext, err = open(&key, sealed{
		ciphertext: rec.Ciphertext,
		nonce:      rec.Nonce,
		tag:        rec.Tag,
	}, rec.AssociatedData)
	if err != nil {
		return nil, nil, err
	}
	e.symKey.Store(&key)
	return plaintext, append([]byte{}, rec.AssociatedData...), nil
}

// Sign signs data with the signing keypair. The signature is deterministic.
func (e *Engine) Sign(data []byte) (Signature, error) {
	digest := sha512.Sum512(data)
	sig, err := rsa.SignPKCS1v15(nil, e.signKey, stdcrypto.SHA512, digest[:])
	if err != nil {
		return nil, errs.Wrap(errs.ErrSignature, "sign", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature of data under pub.
// A mismatch is reported as false; an error means the input was malformed.
func Verify(pub SigningPublicKey, data []byte, sig Signature) (bool, error) {
	if pub.IsZero() {
		return false, errs.Wrap(errs.ErrSignature, "missing signing public key", nil)
	}
	if len(sig) == 0 {
		return false, errs.Wrap(errs.ErrSignature, "empty signature", nil)
	}
	digest := sha512.Sum512(data)
	if err := rsa.VerifyPKCS1v15(pub.key, stdcrypto.SHA512, digest[:], sig); err != nil {
		return false, nil
	}
	return true, nil
}

// Verify is a convenience wrapper around the package level Verify.
func (e *Engine) Verify(pub SigningPublicKey, data []byte, sig Signature) (bool, error) {
	return Verify(pub, data, sig)
}
