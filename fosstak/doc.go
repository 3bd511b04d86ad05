// Package fosstak is a peer-to-peer secure transport.
//
// Each peer owns a crypto.Engine (RSA encryption and signing keypairs
// plus a live AES-256-GCM key). A Manager binds a listener, accepts and
// dials raw connections, and runs one stream.Stream per peer. Every
// payload travels as a hybrid record: AES-GCM ciphertext with the
// symmetric key wrapped by RSA-OAEP for the receiver and the record's
// metadata bound in as associated data.
//
// Peers are addressed by the remote address of their connection. Keys are
// exchanged opportunistically when a connection starts and are never
// checked against a trust anchor.
package fosstak
