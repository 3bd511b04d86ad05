package packet

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownKind = errors.New("packet: unknown kind")

// Decoder converts a message body of a given Kind into an application type,
// typically a sum type implemented as an interface with one struct per Kind.
type Decoder[T any] interface {
	Decode(kind Kind, body []byte) (T, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[T any] func(kind Kind, body []byte) (T, error)

func (f DecoderFunc[T]) Decode(kind Kind, body []byte) (T, error) { return f(kind, body) }

// As decodes an encoded Message and hands it to d.
func As[T any](data []byte, d Decoder[T]) (T, error) {
	m, err := Decode(data)
	if err != nil {
		var zero T
		return zero, err
	}
	return d.Decode(m.Kind, m.Body)
}

// Registry is a Decoder built from one conversion function per Kind.
type Registry[T any] struct {
	mu    sync.RWMutex
	kinds map[Kind]func([]byte) (T, error)
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{kinds: map[Kind]func([]byte) (T, error){}}
}

// Register installs fn for kind, replacing any previous function.
func (r *Registry[T]) Register(kind Kind, fn func([]byte) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = fn
}

func (r *Registry[T]) Decode(kind Kind, body []byte) (T, error) {
	r.mu.RLock()
	fn, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return fn(body)
}
