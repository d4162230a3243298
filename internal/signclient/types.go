package signclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
)

var (
	ErrPairingNotFound    = errors.New("signclient: pairing not found")
	ErrSessionNotFound    = errors.New("signclient: session not found")
	ErrProposalNotFound   = errors.New("signclient: proposal not found")
	ErrMethodNotPermitted = errors.New("signclient: method not permitted")
	ErrChainNotPermitted  = errors.New("signclient: chain not permitted")
	ErrClientClosed       = errors.New("signclient: client closed")
	ErrTransportRequired  = errors.New("signclient: transport required")
	ErrInvalidApproval    = errors.New("signclient: invalid approval")
	ErrNoAccountsApproved = errors.New("signclient: wallet approved no accounts")
)

// Reason is the code/message pair carried by rejections and deletions.
type Reason struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var (
	ReasonUserRejected     = Reason{Code: 5000, Message: "User rejected"}
	ReasonUserDisconnected = Reason{Code: 6000, Message: "User disconnected"}
	ReasonPairingDeleted   = Reason{Code: 6001, Message: "Pairing deleted"}
	ReasonExpired          = Reason{Code: 8000, Message: "Proposal expired"}
	ReasonUnknown          = Reason{Code: 9000, Message: "Unknown error"}
)

// ReasonError surfaces a protocol Reason as an error.
type ReasonError struct {
	Reason Reason
}

func (e *ReasonError) Error() string {
	return fmt.Sprintf("signclient: %s (code %d)", e.Reason.Message, e.Reason.Code)
}

func reasonErr(r Reason) error {
	return &ReasonError{Reason: r}
}

func hasCode(err error, code int) bool {
	var re *ReasonError
	return errors.As(err, &re) && re.Reason.Code == code
}

// IsUnknown reports whether err carries the generic "unknown" reason.
func IsUnknown(err error) bool {
	return hasCode(err, ReasonUnknown.Code)
}

// IsUserRejected reports whether the peer refused the request.
func IsUserRejected(err error) bool {
	return hasCode(err, ReasonUserRejected.Code)
}

// Pairing is a long-lived handshake channel with a wallet.
type Pairing struct {
	Topic         string           `json:"topic"`
	PeerPublicKey string           `json:"peer_public_key"`
	Peer          appmeta.Metadata `json:"peer"`
	Relay         string           `json:"relay"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Proposal is an open pairing handshake waiting for a wallet to scan.
type Proposal struct {
	Topic             string    `json:"topic"`
	URI               string    `json:"uri"`
	ProposerPublicKey string    `json:"proposer_public_key"`
	CreatedAt         time.Time `json:"created_at"`
}

// Permissions restricts what a session may be asked to do.
type Permissions struct {
	Chains  []string `json:"chains"`
	Methods []string `json:"methods"`
}

func (p Permissions) allowsChain(chain string) bool {
	return contains(p.Chains, chain)
}

func (p Permissions) allowsMethod(method string) bool {
	return contains(p.Methods, method)
}

// Session is a settled, permissioned connection bound to one pairing.
type Session struct {
	Topic        string           `json:"topic"`
	PairingTopic string           `json:"pairing_topic"`
	Accounts     []string         `json:"accounts"`
	Permissions  Permissions      `json:"permissions"`
	Self         appmeta.Metadata `json:"self"`
	Peer         appmeta.Metadata `json:"peer"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ConnectParams drives Connect. An empty PairingTopic starts a new pairing.
type ConnectParams struct {
	Metadata     appmeta.Metadata
	PairingTopic string
	Permissions  Permissions
}

// RequestParams addresses one JSON-RPC call to the wallet.
type RequestParams struct {
	Topic   string
	ChainID string
	Method  string
	Params  any
}

type EventKind string

const (
	EventPairingCreated  EventKind = "pairing_created"
	EventPairingUpdated  EventKind = "pairing_updated"
	EventPairingDeleted  EventKind = "pairing_deleted"
	EventPairingProposal EventKind = "pairing_proposal"
	EventSessionDeleted  EventKind = "session_deleted"
)

// Event is a protocol notification. Only the field matching Kind is set,
// plus Reason for deletions.
type Event struct {
	Kind     EventKind
	Pairing  *Pairing
	Proposal *Proposal
	Session  *Session
	Reason   *Reason
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
