// Package packet carries typed application messages over fosstak streams.
//
// The transport core only moves opaque bytes. Applications give those
// bytes a meaning by pairing them with a Kind discriminant (Message) and
// by implementing Decoder, which turns a (Kind, body) pair back into one
// of the application's own types.
package packet
