// Package signclient is the wallet pairing protocol client.
//
// Ownership boundary:
// - pairing proposals (URI), pairing approval and metadata updates
// - session proposal/settlement over a pairing
// - signing requests on a settled session, correlated by JSON-RPC id
// - pairing/session/key persistence in one JSON file
// - protocol events (pairing_created, pairing_updated, pairing_deleted,
//   pairing_proposal, session_deleted) delivered in emission order
//
// Lifecycle of a fresh pairing:
// - proposal -> pairing_created -> pairing_updated -> session settled
//
// Reusing a stored pairing skips straight to the session proposal.
package signclient
