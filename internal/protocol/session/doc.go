// Package session owns peer session setup for the tcp runtime.
//
// Ownership boundary:
// - hello/hello.ack handshake frames
// - connect, handshake and write timeouts
// - dial retry backoff
// - transport security validation and tls.Config construction
package session
