package protocol

import (
	"github.com/TheusHen/fosstak/fosstak/crypto"
)

// Seal builds the record for one outbound action: metadata naming e as the
// sender becomes the associated data, payload becomes the ciphertext.
func Seal(e *crypto.Engine, receiver crypto.EncryptionPublicKey, action Action, payload []byte) (crypto.SecureRecord, error) {
	ad, err := EncodeMetadata(NewMetadata(action, e.PublicKeys()))
	if err != nil {
		return crypto.SecureRecord{}, err
	}
	return e.Encrypt(receiver, payload, ad)
}

// Open decrypts rec with e and decodes its metadata. Like Engine.Decrypt
// it makes e adopt the sender's symmetric key.
func Open(e *crypto.Engine, rec crypto.SecureRecord) (Metadata, []byte, error) {
	payload, ad, err := e.Decrypt(rec)
	if err != nil {
		return Metadata{}, nil, err
	}
	md, err := DecodeMetadata(ad)
	if err != nil {
		return Metadata{}, nil, err
	}
	return md, payload, nil
}
