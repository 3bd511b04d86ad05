package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

// KeyFormat selects the encoding of exported public keys.
type KeyFormat int

const (
	FormatDER KeyFormat = iota
	FormatPEM
)

const pemBlockType = "PUBLIC KEY"

// EncryptionPublicKey is the public half of an engine's encryption keypair.
// It is only accepted where a key for wrapping symmetric keys is expected.
type EncryptionPublicKey struct {
	key *rsa.PublicKey
}

// SigningPublicKey is the public half of an engine's signing keypair.
// It is only accepted where a signature verification key is expected.
type SigningPublicKey struct {
	key *rsa.PublicKey
}

// PublicKeys bundles both exportable public halves of an engine.
type PublicKeys struct {
	Encryption EncryptionPublicKey
	Signing    SigningPublicKey
}

func (k EncryptionPublicKey) IsZero() bool { return k.key == nil }

// Size returns the modulus size in bytes, which is also the length of a
// wrapped symmetric key.
func (k EncryptionPublicKey) Size() int {
	if k.key == nil {
		return 0
	}
	return k.key.Size()
}

func (k EncryptionPublicKey) Equal(other EncryptionPublicKey) bool {
	if k.key == nil || other.key == nil {
		return k.key == other.key
	}
	return k.key.Equal(other.key)
}

func (k EncryptionPublicKey) Marshal(format KeyFormat) ([]byte, error) {
	return marshalRSAPublic(k.key, format)
}

func ParseEncryptionPublicKey(b []byte, format KeyFormat) (EncryptionPublicKey, error) {
	key, err := parseRSAPublic(b, format)
	if err != nil {
		return EncryptionPublicKey{}, err
	}
	return EncryptionPublicKey{key: key}, nil
}

func (k SigningPublicKey) IsZero() bool { return k.key == nil }

func (k SigningPublicKey) Equal(other SigningPublicKey) bool {
	if k.key == nil || other.key == nil {
		return k.key == other.key
	}
	return k.key.Equal(other.key)
}

func (k SigningPublicKey) Marshal(format KeyFormat) ([]byte, error) {
	return marshalRSAPublic(k.key, format)
}

func ParseSigningPublicKey(b []byte, format KeyFormat) (SigningPublicKey, error) {
	key, err := parseRSAPublic(b, format)
	if err != nil {
		return SigningPublicKey{}, err
	}
	return SigningPublicKey{key: key}, nil
}

func (p PublicKeys) Equal(other PublicKeys) bool {
	return p.Encryption.Equal(other.Encryption) && p.Signing.Equal(other.Signing)
}

// Marshal encodes both keys in format.
func (p PublicKeys) Marshal(format KeyFormat) (enc, sign []byte, err error) {
	if enc, err = p.Encryption.Marshal(format); err != nil {
		return nil, nil, err
	}
	if sign, err = p.Signing.Marshal(format); err != nil {
		return nil, nil, err
	}
	return enc, sign, nil
}

// MarshalDER returns the PKIX DER encodings of both keys.
func (p PublicKeys) MarshalDER() (enc, sign []byte, err error) { return p.Marshal(FormatDER) }

// MarshalPEM returns both keys as "PUBLIC KEY" PEM blocks.
func (p PublicKeys) MarshalPEM() (enc, sign []byte, err error) { return p.Marshal(FormatPEM) }

// ParsePublicKeys is the inverse of MarshalDER/Marshal for both halves.
func ParsePublicKeys(enc, sign []byte, format KeyFormat) (PublicKeys, error) {
	e, err := ParseEncryptionPublicKey(enc, format)
	if err != nil {
		return PublicKeys{}, err
	}
	s, err := ParseSigningPublicKey(sign, format)
	if err != nil {
		return PublicKeys{}, err
	}
	return PublicKeys{Encryption: e, Signing: s}, nil
}

func marshalRSAPublic(key *rsa.PublicKey, format KeyFormat) ([]byte, error) {
	if key == nil {
		return nil, errs.Wrap(errs.ErrAsymmetric, "marshal empty public key", nil)
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAsymmetric, "marshal public key", err)
	}
	switch format {
	case FormatDER:
		return der, nil
	case FormatPEM:
		return pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der}), nil
	default:
		return nil, errs.Wrap(errs.ErrAsymmetric, "unknown key format", nil)
	}
}

func parseRSAPublic(b []byte, format KeyFormat) (*rsa.PublicKey, error) {
	der := b
	switch format {
	case FormatDER:
	case FormatPEM:
		block, _ := pem.Decode(b)
		if block == nil || block.Type != pemBlockType {
			return nil, errs.Wrap(errs.ErrAsymmetric, "no PEM public key block", nil)
		}
		der = block.Bytes
	default:
		return nil, errs.Wrap(errs.ErrAsymmetric, "unknown key format", nil)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAsymmetric, "parse public key", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errs.Wrap(errs.ErrAsymmetric, "public key is not RSA", nil)
	}
	return key, nil
}
