// Package relay owns the topic transport between this app and a wallet.
//
// Ownership boundary:
// - publish/subscribe/unsubscribe on opaque topics
// - relay JSON-RPC wire (irn_publish, irn_subscribe, irn_unsubscribe, irn_subscription)
// - dial retry/backoff for the websocket client
// - an in-process Hub used by the development relay server and by tests
//
// Payloads are opaque strings; encryption is the caller's concern.
package relay
