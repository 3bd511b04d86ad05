package protocol

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"

	"github.com/TheusHen/fosstak/fosstak/crypto"
	"github.com/TheusHen/fosstak/fosstak/errs"
)

var (
	enginesOnce sync.Once
	engines     [2]*crypto.Engine
	enginesErr  error
)

func testEngines(t *testing.T) (*crypto.Engine, *crypto.Engine) {
	t.Helper()
	enginesOnce.Do(func() {
		for i := range engines {
			if engines[i], enginesErr = crypto.NewEngine(crypto.MinKeySize); enginesErr != nil {
				return
			}
		}
	})
	require.NoError(t, enginesErr)
	return engines[0], engines[1]
}

func TestMetadataRoundTrip(t *testing.T) {
	a, _ := testEngines(t)
	for _, action := range []Action{ActionTransmit, ActionPing, ActionClose} {
		in := NewMetadata(action, a.PublicKeys())
		b, err := EncodeMetadata(in)
		require.NoError(t, err)

		out, err := DecodeMetadata(b)
		require.NoError(t, err)
		require.Equal(t, action, out.Action)
		require.True(t, in.Timestamp.Equal(out.Timestamp))
		require.True(t, out.Sender.Equal(a.PublicKeys()))
	}
}

func TestMetadataTimestampMillis(t *testing.T) {
	a, _ := testEngines(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123_456_789, time.UTC)
	b, err := EncodeMetadata(Metadata{Timestamp: ts, Action: ActionPing, Sender: a.PublicKeys()})
	require.NoError(t, err)

	out, err := DecodeMetadata(b)
	require.NoError(t, err)
	require.Equal(t, ts.UnixMilli(), out.Timestamp.UnixMilli())
}

func TestMetadataRejectsMalformed(t *testing.T) {
	a, _ := testEngines(t)
	good, err := EncodeMetadata(NewMetadata(ActionTransmit, a.PublicKeys()))
	require.NoError(t, err)

	badAction := append([]byte{}, good...)
	badAction[17] = 42
	hugeTime := append([]byte{}, good...)
	hugeTime[1] = 1

	for name, data := range map[string][]byte{
		"empty":     nil,
		"truncated": good[:len(good)-3],
		"trailing":  append(append([]byte{}, good...), 7),
		"action":    badAction,
		"timestamp": hugeTime,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMetadata(data)
			require.ErrorIs(t, err, errs.ErrSerialization)
		})
	}

	_, err = EncodeMetadata(Metadata{Action: Action(9), Sender: a.PublicKeys()})
	require.ErrorIs(t, err, errs.ErrSerialization)
}

func TestMetadataBadSenderKeyIsSerializationError(t *testing.T) {
	a, _ := testEngines(t)
	_, sign, err := a.PublicKeys().MarshalDER()
	require.NoError(t, err)

	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(metadataVersion)
	b.AddUint64(0)
	b.AddUint64(uint64(time.Now().UnixMilli()))
	b.AddUint8(uint8(ActionPing))
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte("not a key")) })
	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sign) })
	data, err := b.Bytes()
	require.NoError(t, err)

	_, err = DecodeMetadata(data)
	require.ErrorIs(t, err, errs.ErrSerialization)
	require.NotErrorIs(t, err, errs.ErrAsymmetric)
}

func TestSealOpen(t *testing.T) {
	a, b := testEngines(t)

	rec, err := Seal(a, b.PublicKeys().Encryption, ActionTransmit, []byte("hello"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRecord(&buf, rec))
	got, err := ReadRecord(&buf)
	require.NoError(t, err)

	md, payload, err := Open(b, got)
	require.NoError(t, err)
	require.Equal(t, ActionTransmit, md.Action)
	require.Equal(t, []byte("hello"), payload)
	require.True(t, md.Sender.Equal(a.PublicKeys()))
}

func TestOpenTamperedMetadata(t *testing.T) {
	a, b := testEngines(t)

	rec, err := Seal(a, b.PublicKeys().Encryption, ActionPing, nil)
	require.NoError(t, err)
	rec.AssociatedData[17] = uint8(ActionClose)

	_, _, err = Open(b, rec)
	require.ErrorIs(t, err, errs.ErrAEAD)
}

func TestActionString(t *testing.T) {
	require.Equal(t, "TRANSMIT", ActionTransmit.String())
	require.Equal(t, "PING", ActionPing.String())
	require.Equal(t, "CLOSE", ActionClose.String())
	require.Equal(t, "UNKNOWN", Action(0).String())
}
