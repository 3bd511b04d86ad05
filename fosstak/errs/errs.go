// Package errs holds the error taxonomy shared by every fosstak package.
//
// Each error returned by the library wraps exactly one of the sentinels
// below, so callers classify failures with errors.Is while the wrapped
// cause stays reachable through errors.Unwrap.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrListener reports a bind or accept failure on the listening socket.
	ErrListener = errors.New("listener error")
	// ErrTransport reports a connection level I/O failure, including short reads.
	ErrTransport = errors.New("transport error")
	// ErrSerialization reports a malformed or truncated record, frame or metadata.
	ErrSerialization = errors.New("serialization error")
	// ErrAsymmetric reports an RSA wrap/unwrap or key parsing failure.
	ErrAsymmetric = errors.New("asymmetric crypto error")
	// ErrAEAD reports an authenticated encryption failure. No plaintext is
	// ever returned alongside it.
	ErrAEAD = errors.New("aead error")
	// ErrSignature reports malformed signing input.
	ErrSignature = errors.New("signature error")
	// ErrRandomness reports a failing entropy source.
	ErrRandomness = errors.New("randomness error")
	// ErrKeyGeneration reports a failure to generate engine keys.
	ErrKeyGeneration = errors.New("key generation error")
	// ErrStreamNotAlive is returned for operations on a closed stream.
	ErrStreamNotAlive = errors.New("stream not alive")
)

// Wrap annotates cause with kind and a short context message.
// A nil cause yields kind annotated with msg only.
func Wrap(kind error, msg string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, cause)
}
