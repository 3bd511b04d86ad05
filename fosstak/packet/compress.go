package packet

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

var (
	ErrCompressionFailed   = fmt.Errorf("%w: packet compression failed", errs.ErrSerialization)
	ErrDecompressionFailed = fmt.Errorf("%w: packet decompression failed", errs.ErrSerialization)
)

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast    CompressionLevel = iota // Fastest, lower ratio
	CompressionDefault                         // Balanced
	CompressionBest                            // Best ratio, slower
)

func (l CompressionLevel) lz4Level() lz4.CompressionLevel {
	switch l {
	case CompressionFast:
		return lz4.Fast
	case CompressionBest:
		return lz4.Level9
	default:
		return lz4.Level4
	}
}

// Writers and readers carry sizeable internal buffers; pool them.
var (
	writers = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}
	readers = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

func compress(data []byte, level CompressionLevel) ([]byte, error) {
	w := writers.Get().(*lz4.Writer)
	defer writers.Put(w)

	buf := bytes.NewBuffer(make([]byte, 0, len(data)/2))
	w.Reset(buf)
	if err := w.Apply(lz4.CompressionLevelOption(level.lz4Level())); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompressionFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

// decompress inflates data, refusing to produce more than limit bytes.
func decompress(data []byte, limit int64) ([]byte, error) {
	r := readers.Get().(*lz4.Reader)
	defer readers.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompressionFailed, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrDecompressionFailed, limit)
	}
	return buf.Bytes(), nil
}
