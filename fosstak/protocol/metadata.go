package protocol

import (
	"fmt"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/errs"
)

const metadataVersion uint8 = 1

// Metadata travels as the associated data of every record: readable by
// anyone on the path, but bound into the authentication tag.
type Metadata struct {
	// Timestamp has millisecond precision.
	Timestamp time.Time
	Action    Action
	Sender    crypto.PublicKeys
}

// NewMetadata stamps the current time.
func NewMetadata(action Action, sender crypto.PublicKeys) Metadata {
	return Metadata{
		Timestamp: time.UnixMilli(time.Now().UnixMilli()),
		Action:    action,
		Sender:    sender,
	}
}

// EncodeMetadata serializes m.
// Format:
//
//	1 byte: version
//	16 bytes: timestamp, milliseconds since the Unix epoch (u128 big endian)
//	1 byte: action
//	4 bytes + N: encryption public key (PKIX DER)
//	4 bytes + N: signing public key (PKIX DER)
func EncodeMetadata(m Metadata) ([]byte, error) {
	if !m.Action.Valid() {
		return nil, errs.Wrap(errs.ErrSerialization, "invalid action "+m.Action.String(), nil)
	}
	enc, sign, err := m.Sender.MarshalDER()
	if err != nil {
		return nil, err
	}
	ms := m.Timestamp.UnixMilli()
	if ms < 0 {
		return nil, errs.Wrap(errs.ErrSerialization, "timestamp before epoch", nil)
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(metadataVersion)
	b.AddUint64(0)
	b.AddUint64(uint64(ms))
	b.AddUint8(uint8(m.Action))
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(enc) })
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sign) })
	out, err := b.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.ErrSerialization, "encode metadata", err)
	}
	return out, nil
}

// DecodeMetadata parses the output of EncodeMetadata.
func DecodeMetadata(data []byte) (Metadata, error) {
	s := cryptobyte.String(data)
	var (
		version, action uint8
		hi, lo          uint64
		enc, sign       cryptobyte.String
	)
	if !s.ReadUint8(&version) || !s.ReadUint64(&hi) || !s.ReadUint64(&lo) || !s.ReadUint8(&action) ||
		!readBytes32(&s, &enc) || !readBytes32(&s, &sign) {
		return Metadata{}, errs.Wrap(errs.ErrSerialization, "metadata truncated", nil)
	}
	if !s.Empty() {
		return Metadata{}, errs.Wrap(errs.ErrSerialization, "trailing bytes after metadata", nil)
	}
	if version != metadataVersion {
		return Metadata{}, errs.Wrap(errs.ErrSerialization, "unknown metadata version", nil)
	}
	// Anything above 2^63 ms is hundreds of millions of years away.
	if hi != 0 || lo > 1<<63-1 {
		return Metadata{}, errs.Wrap(errs.ErrSerialization, "timestamp out of range", nil)
	}
	a := Action(action)
	if !a.Valid() {
		return Metadata{}, errs.Wrap(errs.ErrSerialization, "unknown action", nil)
	}
	sender, err := crypto.ParsePublicKeys(enc, sign, crypto.FormatDER)
	if err != nil {
		// The key parse error is kept as text so the result matches only
		// ErrSerialization.
		return Metadata{}, fmt.Errorf("%w: metadata sender keys: %v", errs.ErrSerialization, err)
	}
	return Metadata{
		Timestamp: time.UnixMilli(int64(lo)),
		Action:    a,
		Sender:    sender,
	}, nil
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
