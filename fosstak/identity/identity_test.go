package identity

import (
	"testing"

	"github.com/TheusHen/fosstak/fosstak/crypto"
)

func TestPeerIDDerivationStable(t *testing.T) {
	e, err := New(crypto.MinKeySize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id1, err := PeerIDFromPublicKeys(PublicKeys(e))
	if err != nil {
		t.Fatalf("PeerIDFromPublicKeys: %v", err)
	}
	id2, err := PeerIDFromPublicKeys(e.PublicKeys())
	if err != nil {
		t.Fatalf("PeerIDFromPublicKeys: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("PeerID mismatch")
	}

	parsed, err := ParsePeerIDHex(id1.String())
	if err != nil {
		t.Fatalf("ParsePeerIDHex: %v", err)
	}
	if parsed != id1 {
		t.Fatalf("ParsePeerIDHex mismatch")
	}
	if Fingerprint(e.PublicKeys()) != id1.Short() {
		t.Fatalf("Fingerprint mismatch")
	}
}

func TestPeerIDDiffersPerIdentity(t *testing.T) {
	e1, err := New(crypto.MinKeySize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e2, err := New(crypto.MinKeySize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id1, _ := PeerIDFromPublicKeys(e1.PublicKeys())
	id2, _ := PeerIDFromPublicKeys(e2.PublicKeys())
	if id1 == id2 {
		t.Fatalf("distinct identities share a PeerID")
	}
}

func TestParsePeerIDHexRejectsBadInput(t *testing.T) {
	if _, err := ParsePeerIDHex("zz"); err == nil {
		t.Fatalf("expected hex error")
	}
	if _, err := ParsePeerIDHex("abcd"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestFingerprintOfEmptyKeys(t *testing.T) {
	if got := Fingerprint(crypto.PublicKeys{}); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
