package crypto

import (
	"golang.org/x/crypto/cryptobyte"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

const recordVersion uint8 = 1

// SecureRecord is the wire value produced by Engine.Encrypt.
type SecureRecord struct {
	// WrappedKey is the sender's symmetric key under the receiver's
	// encryption public key. Its length equals the RSA modulus size.
	WrappedKey     []byte
	Ciphertext     []byte
	Nonce          [NonceSize]byte
	Tag            [TagSize]byte
	AssociatedData []byte
}

// MarshalRecord serializes a record.
// Format:
//
//	1 byte: version
//	4 bytes + N: wrapped key
//	4 bytes + N: ciphertext
//	16 bytes: nonce
//	16 bytes: tag
//	4 bytes + N: associated data
//
// Lengths are big endian.
func MarshalRecord(r SecureRecord) ([]byte, error) {
	size := 1 + 4*3 + NonceSize + TagSize + len(r.WrappedKey) + len(r.Ciphertext) + len(r.AssociatedData)
	b := cryptobyte.NewBuilder(make([]byte, 0, size))
	b.AddUint8(recordVersion)
	addBytes32(b, r.WrappedKey)
	addBytes32(b, r.Ciphertext)
	b.AddBytes(r.Nonce[:])
	b.AddBytes(r.Tag[:])
	addBytes32(b, r.AssociatedData)
	out, err := b.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.ErrSerialization, "marshal record", err)
	}
	return out, nil
}

// UnmarshalRecord parses the output of MarshalRecord. Truncated input,
// trailing bytes and unknown versions are rejected.
func UnmarshalRecord(data []byte) (SecureRecord, error) {
	s := cryptobyte.String(data)
	var (
		version         uint8
		wrapped, ct, ad cryptobyte.String
		rec             SecureRecord
	)
	if !s.ReadUint8(&version) {
		return SecureRecord{}, errs.Wrap(errs.ErrSerialization, "record truncated", nil)
	}
	if version != recordVersion {
		return SecureRecord{}, errs.Wrap(errs.ErrSerialization, "unknown record version", nil)
	}
	if !readBytes32(&s, &wrapped) ||
		!readBytes32(&s, &ct) ||
		!s.CopyBytes(rec.Nonce[:]) ||
		!s.CopyBytes(rec.Tag[:]) ||
		!readBytes32(&s, &ad) {
		return SecureRecord{}, errs.Wrap(errs.ErrSerialization, "record truncated", nil)
	}
	if !s.Empty() {
		return SecureRecord{}, errs.Wrap(errs.ErrSerialization, "trailing bytes after record", nil)
	}
	rec.WrappedKey = append([]byte{}, wrapped...)
	rec.Ciphertext = append([]byte{}, ct...)
	rec.AssociatedData = append([]byte{}, ad...)
	return rec, nil
}

func addBytes32(b *cryptobyte.Builder, v []byte) {
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(v)
	})
}

// readBytes32 reads a uint32 length prefix and that many bytes into out.
// cryptobyte only offers length-prefixed reads up to 24 bits.
func readBytes32(s *cryptobyte.String, out *cryptobyte.String) bool {
	var n uint32
	var b []byte
	if !s.ReadUint32(&n) || !s.ReadBytes(&b, int(n)) {
		return false
	}
	*out = b
	return true
}
