// Package stream runs the secure record protocol over one raw connection.
//
// A Stream first exchanges signed key announcements with its peer, then
// starts a background reader that decrypts inbound records and queues
// TRANSMIT payloads in arrival order. Writes are sealed for the peer's
// announced encryption key and flushed one record at a time.
//
// Lifecycle:
//
//	New ──► Active ──Close()/peer CLOSE/read error──► Closed
//
// Closed is terminal. Shutdown additionally closes the connection and
// waits for the reader to exit.
package stream
