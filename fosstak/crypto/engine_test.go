package crypto

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TheusHen/fosstak/fosstak/errs"
)

// Key generation dominates test time, so engines are shared.
var (
	enginesOnce sync.Once
	engineA     *Engine
	engineB     *Engine
	engineC     *Engine
	enginesErr  error
)

func testEngines(t testing.TB) (a, b, c *Engine) {
	t.Helper()
	enginesOnce.Do(func() {
		for _, e := range []**Engine{&engineA, &engineB, &engineC} {
			*e, enginesErr = NewEngine(MinKeySize)
			if enginesErr != nil {
				return
			}
		}
	})
	require.NoError(t, enginesErr)
	return engineA, engineB, engineC
}

func TestEngineRoundTrip(t *testing.T) {
	a, b, _ := testEngines(t)

	rec, err := a.Encrypt(b.PublicKeys().Encryption, []byte("Encrypted data!"), []byte("AAD data"))
	require.NoError(t, err)
	require.Len(t, rec.WrappedKey, b.PublicKeys().Encryption.Size())

	pt, ad, err := b.Decrypt(rec)
	require.NoError(t, err)
	require.Equal(t, []byte("Encrypted data!"), pt)
	require.Equal(t, []byte("AAD data"), ad)
}

func TestEngineRoundTripProperty(t *testing.T) {
	a, b, _ := testEngines(t)
	rapid.Check(t, func(rt *rapid.T) {
		p := rapid.SliceOfN(rapid.Byte(), 0, 2048).Draw(rt, "plaintext")
		aad := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(rt, "aad")

		rec, err := a.Encrypt(b.PublicKeys().Encryption, p, aad)
		if err != nil {
			rt.Fatalf("Encrypt: %v", err)
		}
		gotP, gotAD, err := b.Decrypt(rec)
		if err != nil {
			rt.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(gotP, p) || !bytes.Equal(gotAD, aad) {
			rt.Fatalf("round trip mismatch")
		}
	})
}

func TestEngineTamperDetection(t *testing.T) {
	a, b, _ := testEngines(t)
	rapid.Check(t, func(rt *rapid.T) {
		p := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(rt, "plaintext")
		aad := rapid.SliceOfN(rapid.Byte(), 1, 128).Draw(rt, "aad")
		rec, err := a.Encrypt(b.PublicKeys().Encryption, p, aad)
		if err != nil {
			rt.Fatalf("Encrypt: %v", err)
		}

		var field []byte
		switch rapid.IntRange(0, 3).Draw(rt, "field") {
		case 0:
			field = rec.Ciphertext
		case 1:
			field = rec.Tag[:]
		case 2:
			field = rec.AssociatedData
		case 3:
			field = rec.Nonce[:]
		}
		bit := rapid.IntRange(0, len(field)*8-1).Draw(rt, "bit")
		field[bit/8] ^= 1 << (bit % 8)

		gotP, gotAD, err := b.Decrypt(rec)
		if !errors.Is(err, errs.ErrAEAD) {
			rt.Fatalf("expected ErrAEAD, got %v", err)
		}
		if gotP != nil || gotAD != nil {
			rt.Fatalf("tampered record leaked output")
		}
	})
}

func TestEngineWrongKeyRejected(t *testing.T) {
	a, b, c := testEngines(t)

	rec, err := a.Encrypt(b.PublicKeys().Encryption, []byte("for b only"), nil)
	require.NoError(t, err)

	_, _, err = c.Decrypt(rec)
	require.ErrorIs(t, err, errs.ErrAsymmetric)
}

func TestEngineDecryptAdoptsSenderKey(t *testing.T) {
	a, b, _ := testEngines(t)

	fresh, err := NewSymmetricKey()
	require.NoError(t, err)
	a.symKey.Store(&fresh)
	require.NotEqual(t, a.SymmetricKeyFingerprint(), b.SymmetricKeyFingerprint())

	rec, err := a.Encrypt(b.PublicKeys().Encryption, []byte("ping"), nil)
	require.NoError(t, err)
	_, _, err = b.Decrypt(rec)
	require.NoError(t, err)

	require.Equal(t, fresh.Fingerprint(), b.SymmetricKeyFingerprint())
}

func TestEngineFailedDecryptKeepsKey(t *testing.T) {
	a, b, _ := testEngines(t)

	fresh, err := NewSymmetricKey()
	require.NoError(t, err)
	a.symKey.Store(&fresh)

	before := b.SymmetricKeyFingerprint()
	rec, err := a.Encrypt(b.PublicKeys().Encryption, []byte("x"), []byte("meta"))
	require.NoError(t, err)
	rec.Tag[0] ^= 0xff

	_, _, err = b.Decrypt(rec)
	require.ErrorIs(t, err, errs.ErrAEAD)
	require.Equal(t, before, b.SymmetricKeyFingerprint())
}

func TestEngineEncryptRequiresReceiver(t *testing.T) {
	a, _, _ := testEngines(t)
	_, err := a.Encrypt(EncryptionPublicKey{}, []byte("x"), nil)
	require.ErrorIs(t, err, errs.ErrAsymmetric)
}

func TestSigning(t *testing.T) {
	a, b, _ := testEngines(t)
	data := []byte("My precious data!")

	sig, err := a.Sign(data)
	require.NoError(t, err)

	ok, err := Verify(a.PublicKeys().Signing, data, sig)
	require.NoError(t, err)
	require.True(t, ok)

	other, err := a.Sign([]byte("other data"))
	require.NoError(t, err)
	ok, err = Verify(a.PublicKeys().Signing, data, other)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Verify(b.PublicKeys().Signing, data, sig)
	require.NoError(t, err)
	require.False(t, ok)

	again, err := a.Sign(data)
	require.NoError(t, err)
	require.Equal(t, sig, again, "signatures must be deterministic")
}

func TestVerifyMalformedInput(t *testing.T) {
	a, _, _ := testEngines(t)

	_, err := Verify(SigningPublicKey{}, []byte("x"), Signature{1})
	require.ErrorIs(t, err, errs.ErrSignature)

	_, err = a.Verify(a.PublicKeys().Signing, []byte("x"), nil)
	require.ErrorIs(t, err, errs.ErrSignature)
}

func TestNewEngineRejectsSmallKeys(t *testing.T) {
	_, err := NewEngine(512)
	require.ErrorIs(t, err, errs.ErrKeyGeneration)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestSymmetricKeyRandomnessFailure(t *testing.T) {
	_, err := newSymmetricKey(failingReader{})
	require.ErrorIs(t, err, errs.ErrRandomness)
}

func TestPublicKeyEncodings(t *testing.T) {
	a, b, _ := testEngines(t)
	pub := a.PublicKeys()

	for _, format := range []KeyFormat{FormatDER, FormatPEM} {
		enc, err := pub.Encryption.Marshal(format)
		require.NoError(t, err)
		sign, err := pub.Signing.Marshal(format)
		require.NoError(t, err)

		parsed, err := ParsePublicKeys(enc, sign, format)
		require.NoError(t, err)
		require.True(t, parsed.Equal(pub))
		require.False(t, parsed.Equal(b.PublicKeys()))
	}

	encPEM, signPEM, err := pub.MarshalPEM()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(encPEM, []byte("-----BEGIN PUBLIC KEY-----")))
	parsed, err := ParsePublicKeys(encPEM, signPEM, FormatPEM)
	require.NoError(t, err)
	require.True(t, parsed.Equal(pub))

	_, err = ParseEncryptionPublicKey([]byte("not a key"), FormatDER)
	require.ErrorIs(t, err, errs.ErrAsymmetric)
	_, err = ParseSigningPublicKey([]byte("not a key"), FormatPEM)
	require.ErrorIs(t, err, errs.ErrAsymmetric)
}

func BenchmarkEngineEncrypt(b *testing.B) {
	a, recv, _ := testEngines(b)
	msg := make([]byte, 1024)
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = a.Encrypt(recv.PublicKeys().Encryption, msg, nil)
	}
}
