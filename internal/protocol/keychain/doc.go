// Package keychain owns the key material of the pairing protocol.
//
// Ownership boundary:
// - x25519 key pairs generated for proposals and session proposals
// - symmetric topic keys derived by key agreement
// - sealing/opening of topic payloads (chacha20poly1305)
//
// Private keys are tagged by their public key hex, symmetric keys by the
// topic they protect. Delete wipes the stored bytes.
package keychain
