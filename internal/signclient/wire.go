package signclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/AquaToken/dao-aquarius-sub003/internal/appmeta"
)

const (
	MethodPairingApprove = "wc_pairingApprove"
	MethodPairingReject  = "wc_pairingReject"
	MethodPairingUpdate  = "wc_pairingUpdate"
	MethodPairingDelete  = "wc_pairingDelete"
	MethodPairingPing    = "wc_pairingPing"
	MethodSessionPropose = "wc_sessionPropose"
	MethodSessionPayload = "wc_sessionPayload"
	MethodSessionDelete  = "wc_sessionDelete"
	MethodSessionPing    = "wc_sessionPing"

	relayProtocol = "irn"
	uriVersion    = 2
)

type PeerKey struct {
	PublicKey string `json:"publicKey"`
}

type PeerInfo struct {
	PublicKey string           `json:"publicKey"`
	Metadata  appmeta.Metadata `json:"metadata"`
}

type PairingApproveParams struct {
	Responder PeerKey `json:"responder"`
}

type PairingRejectParams struct {
	Reason Reason `json:"reason"`
}

type PairingState struct {
	Metadata appmeta.Metadata `json:"metadata"`
}

type PairingUpdateParams struct {
	State PairingState `json:"state"`
}

type DeleteParams struct {
	Reason Reason `json:"reason"`
}

type BlockchainPermissions struct {
	Chains []string `json:"chains"`
}

type JSONRPCPermissions struct {
	Methods []string `json:"methods"`
}

type ProposedPermissions struct {
	Blockchain BlockchainPermissions `json:"blockchain"`
	JSONRPC    JSONRPCPermissions    `json:"jsonrpc"`
}

type SessionProposeParams struct {
	Proposer    PeerInfo            `json:"proposer"`
	Permissions ProposedPermissions `json:"permissions"`
}

type SessionState struct {
	Accounts []string `json:"accounts"`
}

type SessionApproveResult struct {
	Responder PeerInfo     `json:"responder"`
	State     SessionState `json:"state"`
}

type PayloadRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type SessionPayloadParams struct {
	ChainID string         `json:"chainId"`
	Request PayloadRequest `json:"request"`
}

// BuildURI renders a pairing proposal URI.
func BuildURI(topic, publicKey string) string {
	relay := url.QueryEscape(fmt.Sprintf(`{"protocol":%q}`, relayProtocol))
	return fmt.Sprintf("wc:%s@%d?controller=false&publicKey=%s&relay=%s", topic, uriVersion, publicKey, relay)
}

// ParsedURI is the wallet's view of a proposal URI.
type ParsedURI struct {
	Topic     string
	Version   int
	PublicKey string
	Relay     string
}

func ParseURI(raw string) (ParsedURI, error) {
	if !strings.HasPrefix(raw, "wc:") {
		return ParsedURI{}, fmt.Errorf("signclient: uri must start with wc:")
	}
	body := strings.TrimPrefix(raw, "wc:")
	head, query, _ := strings.Cut(body, "?")
	topic, version, ok := strings.Cut(head, "@")
	if !ok || topic == "" {
		return ParsedURI{}, fmt.Errorf("signclient: uri missing topic/version")
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return ParsedURI{}, fmt.Errorf("signclient: uri query: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(version, "%d", &v); err != nil {
		return ParsedURI{}, fmt.Errorf("signclient: uri version %q", version)
	}
	out := ParsedURI{
		Topic:     topic,
		Version:   v,
		PublicKey: values.Get("publicKey"),
		Relay:     values.Get("relay"),
	}
	if out.PublicKey == "" {
		return ParsedURI{}, fmt.Errorf("signclient: uri missing publicKey")
	}
	return out, nil
}
