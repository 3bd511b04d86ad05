package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/TheusHen/fosstak/fosstak/crypto"
)

// PeerID is a stable fingerprint of a peer's public keys.
// It is defined as: PeerID = SHA-256(encryption DER || signing DER).
// It names peers in logs; it is not an authenticated identity.
type PeerID [32]byte

func PeerIDFromPublicKeys(pub crypto.PublicKeys) (PeerID, error) {
	enc, sign, err := pub.MarshalDER()
	if err != nil {
		return PeerID{}, err
	}
	h := sha256.New()
	h.Write(enc)
	h.Write(sign)
	var id PeerID
	copy(id[:], h.Sum(nil))
	return id, nil
}

func ParsePeerIDHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 32 {
		return PeerID{}, errors.New("invalid PeerID length")
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 bytes in hex, enough to tell peers apart in logs.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:8])
}

// Fingerprint is PeerIDFromPublicKeys rendered short, or "unknown" when
// the keys cannot be encoded.
func Fingerprint(pub crypto.PublicKeys) string {
	id, err := PeerIDFromPublicKeys(pub)
	if err != nil {
		return "unknown"
	}
	return id.Short()
}
