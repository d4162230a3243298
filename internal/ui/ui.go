// Package ui defines the interaction contract the session manager drives:
// named modals resolved through a result channel, a URI display for pairing
// proposals, and toasts. Rendering is left to Presenter implementations.
package ui

import "time"

type ModalKind string

const (
	// ModalPairingSelect lists stored pairings. Value is the chosen pairing
	// topic, or "" for a brand-new pairing.
	ModalPairingSelect ModalKind = "pairing_select"
	// ModalConnecting shows the peer the session request was sent to.
	ModalConnecting ModalKind = "connecting"
	// ModalRequest follows one signing request until it resolves.
	ModalRequest ModalKind = "request"
)

type ToastKind string

const (
	ToastInfo  ToastKind = "info"
	ToastError ToastKind = "error"
)

// ModalResult is delivered once when a modal resolves. Confirmed is false
// when the user dismissed it or it was closed programmatically.
type ModalResult struct {
	Confirmed bool
	Value     any
	Err       error
}

// Presenter renders interactions. Implementations must not block the caller.
type Presenter interface {
	OpenModal(kind ModalKind, params any) <-chan ModalResult
	CloseAllModals()
	// ShowURI presents a pairing URI. onDismiss runs only when the user
	// abandons it, never after CloseURI.
	ShowURI(uri string, onDismiss func())
	CloseURI()
	Toast(kind ToastKind, text string)
}

type PairingOption struct {
	Topic     string
	Name      string
	Icon      string
	URL       string
	CreatedAt time.Time
}

type PairingSelectParams struct {
	Pairings []PairingOption
}

type ConnectingParams struct {
	Name string
	Icon string
}

// Outcome is how a signing request resolved.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomePending  Outcome = "pending"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

type RequestResolution struct {
	Outcome Outcome
	Err     error
}

// RequestParams binds the request modal to the in-flight call. Resolved
// receives exactly one value.
type RequestParams struct {
	PeerName string
	Method   string
	TxHash   string
	Resolved <-chan RequestResolution
}
