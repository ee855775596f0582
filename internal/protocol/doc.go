// Package protocol owns the policylink wire contract.
//
// Ownership boundary:
// - connect-time handshake envelope
// - TLV payload primitives and field IDs
// - typed observation/action-chunk/error message codecs
package protocol
