// Package protocol defines the fosstak wire format.
//
// Every unit on a connection is a frame:
//
//	8 bytes: payload length N (little endian)
//	N bytes: payload
//
// The first frame in each direction carries an Announce with the sender's
// public keys. Every later frame carries one serialized crypto.SecureRecord
// whose associated data is an encoded Metadata.
package protocol
