// Package crypto implements the fosstak record cryptography.
//
// Design:
//   - Hybrid encryption: bulk data under AES-256-GCM, the symmetric key
//     wrapped with RSA-OAEP (SHA-256) for the receiver
//   - Separate RSA keypairs for encryption and signing, typed so they can
//     never be swapped by accident
//   - Associated data is authenticated but travels in clear, so protocol
//     metadata stays inspectable
//   - Every successful Decrypt adopts the sender's symmetric key as the
//     engine's own key for subsequent outbound records
package crypto
