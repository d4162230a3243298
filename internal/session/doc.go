// Package session owns the remote-signing session with a wallet.
//
// Ownership boundary:
//   - Manager: bootstrap and restore, pairing lifecycle tracking, session
//     negotiation, request dispatch and logout
//   - State machine: named negotiation states and their transition table
//   - Bus: login/logout notifications to the UI layer
//
// The protocol client is consumed through the Client interface and built
// lazily by a ClientFactory. Pairing and session storage belong to the
// client; this package holds only the current session reference.
package session
