package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/errs"
)

var (
	ErrAnnounceBadSignature = fmt.Errorf("%w: announce signature does not match its keys", errs.ErrSignature)
	ErrAnnounceMissingKey   = fmt.Errorf("%w: announce missing public key", errs.ErrSerialization)
)

const announceContext = "fosstak-announce-v1"

// Announce publishes a peer's public keys at the start of a connection.
// The signature proves that the holder of the signing key also vouches
// for the encryption key; it does not tie the keys to any identity.
type Announce struct {
	EncryptionKey []byte `json:"encryption_key"`
	SigningKey    []byte `json:"signing_key"`
	Signature     []byte `json:"signature"`
}

// NewAnnounce builds and signs an Announce for e.
func NewAnnounce(e *crypto.Engine) (Announce, error) {
	enc, sign, err := e.PublicKeys().MarshalDER()
	if err != nil {
		return Announce{}, err
	}
	a := Announce{EncryptionKey: enc, SigningKey: sign}
	sig, err := e.Sign(a.SigningBytes())
	if err != nil {
		return Announce{}, err
	}
	a.Signature = sig
	return a, nil
}

func (a Announce) SigningBytes() []byte {
	out := make([]byte, 0, len(announceContext)+8+len(a.EncryptionKey)+len(a.SigningKey))
	out = append(out, announceContext...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(a.EncryptionKey)))
	out = append(out, a.EncryptionKey...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(a.SigningKey)))
	out = append(out, a.SigningKey...)
	return out
}

// Verify checks the signature and returns the announced keys.
func (a Announce) Verify() (crypto.PublicKeys, error) {
	if len(a.EncryptionKey) == 0 || len(a.SigningKey) == 0 {
		return crypto.PublicKeys{}, ErrAnnounceMissingKey
	}
	keys, err := crypto.ParsePublicKeys(a.EncryptionKey, a.SigningKey, crypto.FormatDER)
	if err != nil {
		return crypto.PublicKeys{}, err
	}
	ok, err := crypto.Verify(keys.Signing, a.SigningBytes(), a.Signature)
	if err != nil {
		return crypto.PublicKeys{}, err
	}
	if !ok {
		return crypto.PublicKeys{}, ErrAnnounceBadSignature
	}
	return keys, nil
}

func EncodeAnnounce(a Announce) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSerialization, "encode announce", err)
	}
	return b, nil
}

func DecodeAnnounce(b []byte) (Announce, error) {
	var a Announce
	if err := json.Unmarshal(b, &a); err != nil {
		return Announce{}, errs.Wrap(errs.ErrSerialization, "decode announce", err)
	}
	return a, nil
}

func WriteAnnounce(w io.Writer, a Announce) error {
	b, err := EncodeAnnounce(a)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

func ReadAnnounce(r io.Reader) (Announce, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return Announce{}, err
	}
	return DecodeAnnounce(b)
}
