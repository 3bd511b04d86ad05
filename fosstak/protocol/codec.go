package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/errs"
)

const (
	// LengthSize is the size of the frame length prefix.
	LengthSize = 8
	// ChunkSize bounds a single read while collecting a frame payload.
	ChunkSize = 4096
	// MaxFrameSize limits a single frame payload.
	MaxFrameSize = 64 << 20 // 64 MiB

	maxPrealloc = 1 << 20
)

var ErrFrameTooLarge = fmt.Errorf("%w: frame payload too large", errs.ErrSerialization)

// WriteFrame writes payload with its length prefix. It does not flush;
// callers writing through a bufio.Writer flush once per frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [LengthSize]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.ErrTransport, "write frame length", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errs.Wrap(errs.ErrTransport, "write frame payload", err)
		}
	}
	return nil
}

// ReadFrame reads exactly one frame. It reads the payload in chunks of at
// most ChunkSize and never consumes bytes past the declared length, so r
// can be shared by consecutive calls without losing the next frame.
//
// A connection closed cleanly between frames yields an ErrTransport
// wrapping io.EOF; one closed inside a frame wraps io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [LengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "read frame length", err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, 0, min(n, maxPrealloc))
	var chunk [ChunkSize]byte
	for remaining := n; remaining > 0; {
		want := min(remaining, ChunkSize)
		got, err := io.ReadFull(r, chunk[:want])
		payload = append(payload, chunk[:got]...)
		remaining -= uint64(got)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, errs.Wrap(errs.ErrTransport, fmt.Sprintf("read frame payload (%d of %d bytes)", n-remaining, n), err)
		}
	}
	return payload, nil
}

// WriteRecord serializes rec and writes it as one frame.
func WriteRecord(w io.Writer, rec crypto.SecureRecord) error {
	b, err := crypto.MarshalRecord(rec)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadRecord reads one frame and parses it as a record.
func ReadRecord(r io.Reader) (crypto.SecureRecord, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return crypto.SecureRecord{}, err
	}
	return crypto.UnmarshalRecord(b)
}
