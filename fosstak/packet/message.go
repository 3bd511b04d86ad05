package packet

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

const (
	// MaxBodySize bounds a decoded (and decompressed) message body.
	MaxBodySize = 32 << 20

	flagCompressed uint8 = 1 << 0
	knownFlags           = flagCompressed
)

var ErrBodyTooLarge = fmt.Errorf("%w: packet body too large", errs.ErrSerialization)

// Kind is the application defined discriminant of a Message.
type Kind uint16

// Message is an application payload tagged with its Kind.
type Message struct {
	Kind Kind
	Body []byte
}

// Options tune Encode.
type Options struct {
	// Compress enables LZ4 for bodies it actually shrinks.
	Compress bool
	Level    CompressionLevel
}

// Encode serializes m.
// Format:
//
//	2 bytes: kind (big endian)
//	1 byte: flags (bit 0: body is LZ4 compressed)
//	4 bytes + N: body
func Encode(m Message, opts Options) ([]byte, error) {
	if len(m.Body) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	body, flags := m.Body, uint8(0)
	if opts.Compress && len(body) > 0 {
		c, err := compress(body, opts.Level)
		if err != nil {
			return nil, err
		}
		if len(c) < len(body) {
			body, flags = c, flagCompressed
		}
	}

	b := cryptobyte.NewBuilder(make([]byte, 0, 7+len(body)))
	b.AddUint16(uint16(m.Kind))
	b.AddUint8(flags)
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(body) })
	out, err := b.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.ErrSerialization, "encode packet", err)
	}
	return out, nil
}

// Decode parses the output of Encode, inflating compressed bodies.
func Decode(data []byte) (Message, error) {
	s := cryptobyte.String(data)
	var (
		kind  uint16
		flags uint8
		body  cryptobyte.String
	)
	if !s.ReadUint16(&kind) || !s.ReadUint8(&flags) || !readBytes32(&s, &body) || !s.Empty() {
		return Message{}, errs.Wrap(errs.ErrSerialization, "malformed packet", nil)
	}
	if flags&^knownFlags != 0 {
		return Message{}, errs.Wrap(errs.ErrSerialization, fmt.Sprintf("unknown packet flags %#x", flags), nil)
	}
	if len(body) > MaxBodySize {
		return Message{}, ErrBodyTooLarge
	}
	m := Message{Kind: Kind(kind)}
	if flags&flagCompressed != 0 {
		inflated, err := decompress(body, MaxBodySize)
		if err != nil {
			return Message{}, err
		}
		m.Body = inflated
		return m, nil
	}
	m.Body = append([]byte{}, body...)
	return m, nil
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
