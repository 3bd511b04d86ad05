package protocol

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

// chunkReader hands out at most size bytes per Read, like a transport
// that delivers a frame in small segments.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}

// chunkWriter forwards writes in pieces of at most size bytes.
type chunkWriter struct {
	w    io.Writer
	size int
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), c.size)
		m, err := c.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("ok")))
	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), out)
	require.Zero(t, buf.Len())
}

func TestFrameExactness(t *testing.T) {
	for _, n := range []int{0, 1, 4095, 4096, 4097, 1_000_000} {
		payload := make([]byte, n)
		_, _ = rand.Read(payload)
		for _, chunk := range []int{1, 3, 512} {
			t.Run(fmt.Sprintf("n=%d/chunk=%d", n, chunk), func(t *testing.T) {
				if n == 1_000_000 && chunk == 1 && testing.Short() {
					t.Skip("a million single byte reads")
				}
				var buf bytes.Buffer
				require.NoError(t, WriteFrame(&chunkWriter{w: &buf, size: chunk}, payload))
				require.Equal(t, LengthSize+n, buf.Len())

				out, err := ReadFrame(&chunkReader{r: &buf, size: chunk})
				require.NoError(t, err)
				require.Len(t, out, n)
				require.True(t, bytes.Equal(payload, out))
			})
		}
	}
}

func TestFrameDoesNotReadPastLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, []byte("third")))

	r := &chunkReader{r: &buf, size: 512}
	for _, want := range []string{"first", "", "third"} {
		got, err := ReadFrame(r)
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
	_, err := ReadFrame(r)
	require.ErrorIs(t, err, errs.ErrTransport)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameShortRead(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 10_000)))
	truncated := buf.Bytes()[:LengthSize+5000]

	_, err := ReadFrame(bytes.NewReader(truncated))
	require.ErrorIs(t, err, errs.ErrTransport)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadFrame(bytes.NewReader(truncated[:3]))
	require.ErrorIs(t, err, errs.ErrTransport)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameTooLarge(t *testing.T) {
	var hdr [LengthSize]byte
	binary.LittleEndian.PutUint64(hdr[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
	require.ErrorIs(t, err, errs.ErrSerialization)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFrameTransportError(t *testing.T) {
	err := WriteFrame(failingWriter{}, []byte("x"))
	require.ErrorIs(t, err, errs.ErrTransport)
}

func TestFrameProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		frames := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, 9000), 1, 4).Draw(rt, "frames")
		chunk := rapid.IntRange(1, 700).Draw(rt, "chunk")

		var buf bytes.Buffer
		for _, f := range frames {
			if err := WriteFrame(&chunkWriter{w: &buf, size: chunk}, f); err != nil {
				rt.Fatalf("WriteFrame: %v", err)
			}
		}
		r := &chunkReader{r: &buf, size: chunk}
		for i, f := range frames {
			got, err := ReadFrame(r)
			if err != nil {
				rt.Fatalf("ReadFrame %d: %v", i, err)
			}
			if !bytes.Equal(got, f) {
				rt.Fatalf("frame %d mismatch", i)
			}
		}
	})
}

func BenchmarkReadFrame(b *testing.B) {
	var frame bytes.Buffer
	_ = WriteFrame(&frame, make([]byte, 64*1024))
	raw := frame.Bytes()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ReadFrame(bytes.NewReader(raw))
	}
}
